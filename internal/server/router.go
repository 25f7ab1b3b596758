// Package server wires the HTTP API: middleware chain, routes and the http.Server.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"custodial-ledger/internal/audit"
	"custodial-ledger/internal/devotp"
	devotphandler "custodial-ledger/internal/devotp/handler"
	healthhandler "custodial-ledger/internal/health/handler"
	identityhandler "custodial-ledger/internal/identity/handler"
	identityservice "custodial-ledger/internal/identity/service"
	ledgerhandler "custodial-ledger/internal/ledger/handler"
	ledgerservice "custodial-ledger/internal/ledger/service"
	"custodial-ledger/internal/metrics"
	"custodial-ledger/internal/server/middleware"
	"custodial-ledger/internal/telemetry"
)

// Deps holds the services and cross-cutting collaborators of the HTTP API.
type Deps struct {
	Auth   *identityservice.AuthService
	Ledger *ledgerservice.LedgerService
	// DevStore enables GET /dev/otp when non-nil. Set only when dev disclosure is enabled and not production.
	DevStore devotp.Store
	// Audit records authenticated reads. May be nil.
	Audit audit.AuditLogger
	// Events receives one http_request event per request. May be nil.
	Events telemetry.EventEmitter
	// Metrics instruments requests and serves /metrics. May be nil.
	Metrics *metrics.Metrics
	// HealthPinger is used by /healthz (e.g. *sql.DB). May be nil.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker is used by /healthz (e.g. the OPA evaluator). May be nil.
	HealthPolicyChecker healthhandler.PolicyChecker
	// Limiter guards /login and /verify_code. May be nil.
	Limiter *middleware.RateLimiter
	Log     logrus.FieldLogger
}

// NewRouter builds the gin engine with every route of the API.
func NewRouter(deps Deps) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.ClientIP(), middleware.Tracing(), middleware.RequestLog(log, deps.Events))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Instrument())
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	health := healthhandler.NewHandler(deps.HealthPinger, deps.HealthPolicyChecker, log)
	r.GET("/healthz", health.Healthz)

	// The limiter runs first so unauthenticated floods are throttled too.
	limited := func(hs ...gin.HandlerFunc) []gin.HandlerFunc {
		if deps.Limiter == nil {
			return hs
		}
		return append([]gin.HandlerFunc{deps.Limiter.Handler()}, hs...)
	}
	session := middleware.RequireSession(deps.Auth, log)

	identity := identityhandler.NewHandler(deps.Auth, deps.Metrics, log)
	r.POST("/register", identity.Register)
	r.POST("/login", limited(identity.Login)...)
	r.POST("/verify_code", limited(session, identity.VerifyCode)...)
	r.POST("/logout", session, identity.Logout)
	r.GET("/logout", session, identity.Logout)

	ledger := ledgerhandler.NewHandler(deps.Ledger, deps.Metrics, log)
	reads := middleware.AuditReads(deps.Audit)
	r.GET("/balance", session, reads, ledger.Balance)
	r.POST("/transfer", session, ledger.Transfer)
	r.GET("/transfers", session, reads, ledger.History)

	if deps.DevStore != nil {
		dev := devotphandler.NewHandler(deps.DevStore, log)
		r.GET("/dev/otp", session, dev.GetOTP)
	}
	return r
}

// NewHTTPServer returns an http.Server with conservative timeouts for handler.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
