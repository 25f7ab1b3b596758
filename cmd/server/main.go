package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	accountrepo "custodial-ledger/internal/account/repository"
	"custodial-ledger/internal/audit"
	auditrepo "custodial-ledger/internal/audit/repository"
	"custodial-ledger/internal/config"
	"custodial-ledger/internal/db"
	"custodial-ledger/internal/devotp"
	identityservice "custodial-ledger/internal/identity/service"
	ledgerrepo "custodial-ledger/internal/ledger/repository"
	ledgerservice "custodial-ledger/internal/ledger/service"
	"custodial-ledger/internal/logging"
	"custodial-ledger/internal/metrics"
	"custodial-ledger/internal/mfa"
	"custodial-ledger/internal/mfa/delivery"
	mfarepo "custodial-ledger/internal/mfa/repository"
	policyengine "custodial-ledger/internal/policy/engine"
	"custodial-ledger/internal/security"
	"custodial-ledger/internal/server"
	"custodial-ledger/internal/server/interceptors"
	"custodial-ledger/internal/server/middleware"
	sessionrepo "custodial-ledger/internal/session/repository"
	"custodial-ledger/internal/telemetry"
	otelemit "custodial-ledger/internal/telemetry/otel"
	"custodial-ledger/internal/telemetry/producer"
)

const (
	serviceName      = "custodial-ledger"
	shutdownTimeout  = 15 * time.Second
	limiterIdleAfter = 10 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "", false).WithError(err).Fatal("config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.IsProduction())
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	log := logging.Component(logger, "main")
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otelemit.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	signingKey, err := sessionSigningKey(cfg, log)
	if err != nil {
		return err
	}
	tokens, err := security.NewTokenProvider(signingKey, serviceName)
	if err != nil {
		return err
	}
	openingBalance, err := cfg.OpeningBalanceAmount()
	if err != nil {
		return err
	}

	events := telemetry.Fanout{otelemit.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.LedgerEventsTopic); kp != nil {
		events = append(events, kp)
		defer kp.Close()
		log.WithField("topic", cfg.LedgerEventsTopic).Info("publishing ledger events to kafka")
	}

	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(conn), interceptors.ClientIP, logger)
	accounts := accountrepo.NewPostgresRepository(conn)
	sessions := sessionrepo.NewPostgresRepository(conn)
	gate := mfa.NewGate(mfarepo.NewPostgresRepository(conn, cfg.TxTimeout()), cfg.OTPLifetime(), cfg.OTPMaxAttempts)

	authDeps := identityservice.Deps{Audit: auditLogger, Events: events, Log: logger}
	if d := newDeliverer(cfg); d != nil {
		authDeps.Deliverer = d
	} else {
		log.Warn("no code delivery channel configured; logins will fail unless OTP_RETURN_TO_CLIENT is set")
	}

	sched := cron.New()
	var devStore *devotp.MemoryStore
	if cfg.OTPReturnToClient {
		devStore = devotp.NewMemoryStore()
		authDeps.DevStore = devStore
		if _, err := sched.AddFunc(cfg.SweepSchedule, func() { devStore.Purge() }); err != nil {
			return err
		}
		log.Warn("OTP_RETURN_TO_CLIENT is enabled: codes may be disclosed to clients")
	}

	auth := identityservice.NewAuthService(accounts, sessions, gate, security.NewHasher(cfg.BcryptCost), tokens, authDeps,
		identityservice.Options{
			OpeningBalance:     openingBalance,
			PendingTTL:         cfg.PendingSessionLifetime(),
			SessionTTL:         cfg.SessionLifetime(),
			IdleTTL:            cfg.SessionIdleLifetime(),
			ReturnCodeToClient: cfg.OTPReturnToClient,
		})

	policy, err := newPolicy(ctx, cfg)
	if err != nil {
		return err
	}
	ledger := ledgerservice.NewLedgerService(accounts, ledgerrepo.NewPostgresRepository(conn, cfg.TxTimeout()), policy, auditLogger, events, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	limiterStop := make(chan struct{})
	defer close(limiterStop)
	limiter.StartCleanup(limiterIdleAfter, limiterStop)

	deps := server.Deps{
		Auth:                auth,
		Ledger:              ledger,
		Audit:               auditLogger,
		Events:              events,
		Metrics:             metrics.New(),
		HealthPinger:        conn,
		HealthPolicyChecker: policy,
		Limiter:             limiter,
		Log:                 logger,
	}
	if devStore != nil {
		deps.DevStore = devStore
	}
	srv := server.NewHTTPServer(cfg.HTTPAddr, server.NewRouter(deps))

	sched.Start()
	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	<-sched.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("telemetry shutdown")
	}
	log.Info("stopped")
	return nil
}

// newDeliverer returns the configured code delivery channels, or nil when none is configured.
func newDeliverer(cfg *config.Config) delivery.Deliverer {
	var sms, email delivery.Deliverer
	if cfg.SMSLocalAPIKey != "" {
		sms = delivery.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	}
	if cfg.SMTPHost != "" {
		email = delivery.NewEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom, cfg.OTPLifetime())
	}
	r := delivery.NewRouter(sms, email)
	if !r.Enabled() {
		return nil
	}
	return r
}

func newPolicy(ctx context.Context, cfg *config.Config) (*policyengine.OPAEvaluator, error) {
	maxAmount, err := cfg.TransferMaxAmountValue()
	if err != nil {
		return nil, err
	}
	var extra []string
	if cfg.TransferPolicyPath != "" {
		module, err := os.ReadFile(cfg.TransferPolicyPath)
		if err != nil {
			return nil, err
		}
		extra = append(extra, string(module))
	}
	return policyengine.NewOPAEvaluator(ctx, maxAmount, extra...)
}

// sessionSigningKey returns the configured key. Outside production an unset key is replaced by a
// random per-process key, which invalidates every token on restart.
func sessionSigningKey(cfg *config.Config, log logrus.FieldLogger) ([]byte, error) {
	if cfg.SessionSigningKey != "" {
		return []byte(cfg.SessionSigningKey), nil
	}
	if cfg.IsProduction() {
		return nil, errors.New("SESSION_SIGNING_KEY is required in production")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	log.Warn("SESSION_SIGNING_KEY not set; using an ephemeral key")
	return key, nil
}
