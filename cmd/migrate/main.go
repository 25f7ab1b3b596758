// migrate applies the embedded schema; go run ./cmd/migrate [-direction up|down].
package main

import (
	"errors"
	"flag"
	"os"

	"custodial-ledger/internal/config"
	"custodial-ledger/internal/db/migrate"
	"custodial-ledger/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "", false).WithError(err).Fatal("config")
	}
	log := logging.Component(logging.New(cfg.LogLevel, cfg.LogFormat, cfg.IsProduction()), "migrate")

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return
		}
		log.WithError(err).Error("migration failed")
		os.Exit(1)
	}
	version, dirty, err := migrate.Version(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Warn("could not read schema version")
		return
	}
	log.WithField("version", version).WithField("dirty", dirty).Infof("migrations applied (%s)", *direction)
}
