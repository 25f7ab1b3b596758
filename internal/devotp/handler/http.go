// Package handler implements the dev-only GET /dev/otp endpoint.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"custodial-ledger/internal/devotp"
	"custodial-ledger/internal/platform/authz"
	"custodial-ledger/internal/server/response"
	sessiondomain "custodial-ledger/internal/session/domain"
)

const devOTPNote = "DEV MODE ONLY"

// ErrNoCode is returned when the store has no live code for the caller's session.
var ErrNoCode = errors.New("no code held for this session")

// Handler serves disclosed codes. Only routed when dev disclosure is enabled and not production.
type Handler struct {
	store devotp.Store
	log   logrus.FieldLogger
}

// NewHandler returns a handler that reads codes from store.
func NewHandler(store devotp.Store, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{store: store, log: log.WithField("component", "devotp.http")}
}

// GetOTP returns the code for the caller's pending session.
func (h *Handler) GetOTP(c *gin.Context) {
	_, sessionID, state, err := authz.RequireSession(c.Request.Context())
	if err != nil || state != sessiondomain.StatePendingOTP {
		response.Fail(c, h.log, authz.ErrUnauthorized)
		return
	}
	code, ok := h.store.Get(c.Request.Context(), sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   response.Problem{Kind: response.KindNotFound, Message: ErrNoCode.Error()},
		})
		return
	}
	response.OK(c, http.StatusOK, gin.H{"code": code, "note": devOTPNote})
}
