// seed inserts the development accounts alice and bob. Run after migrate.
// Idempotent: existing logins are left untouched.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	accountdomain "custodial-ledger/internal/account/domain"
	accountrepo "custodial-ledger/internal/account/repository"
	"custodial-ledger/internal/config"
	"custodial-ledger/internal/db"
	"custodial-ledger/internal/logging"
	"custodial-ledger/internal/security"
)

const devPassword = "password123"

var seedBalance = decimal.RequireFromString("1000.00")

var devAccounts = []struct {
	login, contact string
}{
	{"alice", "alice@example.com"},
	{"bob", "bob@example.com"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "", false).WithError(err).Fatal("config")
	}
	log := logging.Component(logging.New(cfg.LogLevel, cfg.LogFormat, cfg.IsProduction()), "seed")
	if cfg.IsProduction() {
		log.Fatal("refusing to seed development accounts when APP_ENV=production")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or export DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("db")
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accounts := accountrepo.NewPostgresRepository(conn)
	hasher := security.NewHasher(cfg.BcryptCost)
	hash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.WithError(err).Fatal("hash password")
	}

	now := time.Now().UTC()
	for _, a := range devAccounts {
		err := accounts.Create(ctx, &accountdomain.Account{
			ID:           uuid.New().String(),
			Login:        a.login,
			PasswordHash: hash,
			Contact:      a.contact,
			Balance:      seedBalance,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		switch {
		case errors.Is(err, accountrepo.ErrDuplicateIdentity):
			log.WithField("login", a.login).Info("already seeded, skipping")
		case err != nil:
			log.WithError(err).WithField("login", a.login).Fatal("create account")
		default:
			log.WithField("login", a.login).Info("seeded")
		}
	}
	log.Infof("dev logins: alice / %s, bob / %s", devPassword, devPassword)
}
