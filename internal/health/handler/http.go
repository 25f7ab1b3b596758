// Package handler serves the readiness probe.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const checkTimeout = 2 * time.Second

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is implemented by the OPA transfer evaluator.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler reports whether the database and policy engine answer.
type Handler struct {
	pinger Pinger
	policy PolicyChecker
	log    logrus.FieldLogger
}

// NewHandler returns a health handler. Nil dependencies are skipped.
func NewHandler(pinger Pinger, policy PolicyChecker, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{pinger: pinger, policy: policy, log: log.WithField("component", "health")}
}

// Healthz handles GET /healthz: 200 serving, or 503 not_serving with the failing check.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	if h.pinger != nil {
		if err := h.pinger.PingContext(ctx); err != nil {
			h.log.WithError(err).Warn("database ping failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "status": "not_serving", "check": "database"})
			return
		}
	}
	if h.policy != nil {
		if err := h.policy.HealthCheck(ctx); err != nil {
			h.log.WithError(err).Warn("policy engine check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "status": "not_serving", "check": "policy"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "serving"})
}
