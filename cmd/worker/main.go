// Worker purges expired sessions and challenges on SWEEP_SCHEDULE and, when KAFKA_BROKERS is set,
// consumes ledger events and ships them to Loki (LOKI_URL) or the log.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"custodial-ledger/internal/config"
	"custodial-ledger/internal/db"
	"custodial-ledger/internal/logging"
	"custodial-ledger/internal/metrics"
	"custodial-ledger/internal/mfa"
	mfarepo "custodial-ledger/internal/mfa/repository"
	sessionrepo "custodial-ledger/internal/session/repository"
	"custodial-ledger/internal/sweeper"
	"custodial-ledger/internal/telemetry/consumer"
	"custodial-ledger/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "", false).WithError(err).Fatal("config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.IsProduction())
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("worker exited")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	log := logging.Component(logger, "worker")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	m := metrics.New()
	gate := mfa.NewGate(mfarepo.NewPostgresRepository(conn, cfg.TxTimeout()), cfg.OTPLifetime(), cfg.OTPMaxAttempts)
	sw := sweeper.New(sessionrepo.NewPostgresRepository(conn), gate, cfg.SessionIdleLifetime(), m, logger)

	sched := cron.New()
	if _, err := sw.Schedule(ctx, sched, cfg.SweepSchedule); err != nil {
		return err
	}
	sw.RunOnce(ctx)
	sched.Start()
	log.WithField("schedule", cfg.SweepSchedule).Info("sweeper scheduled")

	var wg sync.WaitGroup
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		var sink consumer.Sink = consumer.LogSink{Log: logging.Component(logger, "events")}
		if cfg.LokiURL != "" {
			sink = loki.NewClient(cfg.LokiURL)
		}
		c := consumer.NewKafkaConsumer(brokers, cfg.LedgerEventsTopic, cfg.KafkaGroupID, sink, logger)
		defer c.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Run(ctx)
		}()
		log.WithField("topic", cfg.LedgerEventsTopic).WithField("group", cfg.KafkaGroupID).Info("consuming ledger events")
	}

	var metricsSrv *http.Server
	if cfg.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server")
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
	<-sched.Stop().Done()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	wg.Wait()
	log.Info("stopped")
	return nil
}
