// Package handler exposes register, login, code verification and logout over HTTP.
package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"custodial-ledger/internal/identity/service"
	"custodial-ledger/internal/metrics"
	"custodial-ledger/internal/platform/authz"
	"custodial-ledger/internal/server/response"
	sessiondomain "custodial-ledger/internal/session/domain"
)

// Handler serves the identity endpoints.
type Handler struct {
	auth    *service.AuthService
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

// NewHandler returns an identity handler. m may be nil.
func NewHandler(auth *service.AuthService, m *metrics.Metrics, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{auth: auth, metrics: m, log: log.WithField("component", "identity.http")}
}

type registerRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Contact  string `json:"contact"`
	// Email is accepted as an alias of Contact.
	Email string `json:"email"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

// Register handles POST /register.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Validation(c, "request body must be a JSON object")
		return
	}
	contact := req.Contact
	if strings.TrimSpace(contact) == "" {
		contact = req.Email
	}
	id, err := h.auth.Register(c.Request.Context(), req.Login, req.Password, contact)
	if err != nil {
		response.Fail(c, h.log, err)
		return
	}
	response.OK(c, http.StatusCreated, gin.H{"account_id": id})
}

// Login handles POST /login. A successful login returns a pending session token; the code arrives out of band.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Validation(c, "request body must be a JSON object")
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req.Login, req.Password)
	if err != nil {
		h.metrics.RecordLogin(kindOf(err))
		response.Fail(c, h.log, err)
		return
	}
	h.metrics.RecordLogin(metrics.OutcomeOK)
	payload := gin.H{
		"await_code": true,
		"token":      res.Token,
		"session_id": res.SessionID,
		"state":      sessiondomain.StatePendingOTP,
		"expires_at": res.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if res.DevCode != "" {
		payload["dev_code"] = res.DevCode
	}
	response.OK(c, http.StatusOK, payload)
}

// VerifyCode handles POST /verify_code for the pending session in the request context.
func (h *Handler) VerifyCode(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Validation(c, "request body must be a JSON object")
		return
	}
	_, sessionID, _, err := authz.RequireSession(c.Request.Context())
	if err != nil {
		response.Fail(c, h.log, err)
		return
	}
	if err := h.auth.VerifyCode(c.Request.Context(), sessionID, req.Code); err != nil {
		h.metrics.RecordVerification(kindOf(err))
		response.Fail(c, h.log, err)
		return
	}
	h.metrics.RecordVerification(metrics.OutcomeOK)
	response.OK(c, http.StatusOK, gin.H{"state": sessiondomain.StateAuthorized})
}

// Logout handles POST and GET /logout.
func (h *Handler) Logout(c *gin.Context) {
	_, sessionID, _, err := authz.RequireSession(c.Request.Context())
	if err != nil {
		response.Fail(c, h.log, err)
		return
	}
	if err := h.auth.Logout(c.Request.Context(), sessionID); err != nil {
		response.Fail(c, h.log, err)
		return
	}
	response.OK(c, http.StatusOK, nil)
}

func kindOf(err error) string {
	_, p := response.Classify(err)
	return p.Kind
}
