package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"custodial-ledger/internal/audit"
	"custodial-ledger/internal/server/interceptors"
	"custodial-ledger/internal/server/response"
	"custodial-ledger/internal/telemetry"
	telemetrydomain "custodial-ledger/internal/telemetry/domain"
)

// RequestLog logs every request and emits an http_request telemetry event. events may be nil.
// Bodies and headers are never logged.
func RequestLog(log logrus.FieldLogger, events telemetry.EventEmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		status := c.Writer.Status()
		accountID, _ := interceptors.GetAccountID(c.Request.Context())
		sessionID, _ := interceptors.GetSessionID(c.Request.Context())
		fields := logrus.Fields{
			"method":     c.Request.Method,
			"route":      route,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}
		if accountID != "" {
			fields["account_id"] = accountID
		}
		if kind := response.ErrorKind(c); kind != "" {
			fields["error_kind"] = kind
		}
		entry := log.WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}

		if events != nil && route != "/healthz" && route != "/metrics" {
			telemetry.EmitAsync(events, telemetrydomain.NewEvent(telemetrydomain.EventHTTPRequest, "http", accountID, sessionID, map[string]string{
				"method": c.Request.Method,
				"route":  route,
				"status": strconv.Itoa(status),
			}))
		}
	}
}

// AuditReads records successful authenticated reads that the services do not audit themselves.
func AuditReads(logger audit.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if logger == nil || c.Request.Method != "GET" || c.Writer.Status() >= 400 {
			return
		}
		accountID, ok := interceptors.GetAccountID(c.Request.Context())
		if !ok {
			return
		}
		ar := audit.ParseRoute(c.Request.Method, c.FullPath())
		logger.LogEvent(c.Request.Context(), accountID, ar.Action, ar.Resource, "")
	}
}
