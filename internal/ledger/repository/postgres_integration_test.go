package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodial-ledger/internal/db"
	"custodial-ledger/internal/db/migrate"
	"custodial-ledger/internal/ledger/domain"
)

// openLive connects to DATABASE_URL with the schema applied, or skips.
func openLive(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	require.NoError(t, migrate.Run(dsn, "up"))
	conn, err := db.Open(dsn)
	if err != nil {
		t.Skipf("Database connection failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func seedAccount(t *testing.T, conn *sql.DB, balance string) string {
	t.Helper()
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := conn.Exec(
		`INSERT INTO accounts (id, login, password_hash, contact, balance, created_at, updated_at)
		 VALUES ($1, $2, 'x', 'it@example.com', $3, $4, $4)`,
		id, "it-"+id, balance, now,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = conn.Exec(`DELETE FROM ledger_transfers WHERE sender_id = $1 OR receiver_id = $1`, id)
		_, _ = conn.Exec(`DELETE FROM accounts WHERE id = $1`, id)
	})
	return id
}

func liveBalance(t *testing.T, conn *sql.DB, id string) decimal.Decimal {
	t.Helper()
	var bal decimal.Decimal
	require.NoError(t, conn.QueryRow(`SELECT balance FROM accounts WHERE id = $1`, id).Scan(&bal))
	return bal
}

func TestExecuteLive_ConcurrentTransfersNeverOverdraw(t *testing.T) {
	conn := openLive(t)
	repo := NewPostgresRepository(conn, 10*time.Second)

	const n = 8
	amount := decimal.NewFromInt(10)
	sender := seedAccount(t, conn, amount.Mul(decimal.NewFromInt(n-1)).String())
	receiver := seedAccount(t, conn, "0")

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Execute(context.Background(), &domain.Transfer{
				ID:         uuid.New().String(),
				SenderID:   sender,
				ReceiverID: receiver,
				Amount:     amount,
				CreatedAt:  time.Now().UTC(),
			})
		}(i)
	}
	wg.Wait()

	ok, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientFunds):
			short++
		default:
			t.Fatalf("Execute: %v", err)
		}
	}
	assert.Equal(t, n-1, ok)
	assert.Equal(t, 1, short)

	senderBal, receiverBal := liveBalance(t, conn, sender), liveBalance(t, conn, receiver)
	assert.True(t, senderBal.IsZero(), "sender balance = %s", senderBal)
	assert.True(t, receiverBal.Equal(amount.Mul(decimal.NewFromInt(n-1))), "receiver balance = %s", receiverBal)
}

func TestExecuteLive_SameKeyAppliesOnce(t *testing.T) {
	conn := openLive(t)
	repo := NewPostgresRepository(conn, 10*time.Second)

	const n = 6
	amount := decimal.NewFromInt(100)
	sender := seedAccount(t, conn, "100.00")
	receiver := seedAccount(t, conn, "0")
	key := uuid.New().String()

	var wg sync.WaitGroup
	results := make([]*domain.Transfer, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = repo.Execute(context.Background(), &domain.Transfer{
				ID:             uuid.New().String(),
				SenderID:       sender,
				ReceiverID:     receiver,
				Amount:         amount,
				IdempotencyKey: key,
				CreatedAt:      time.Now().UTC(),
			})
		}(i)
	}
	wg.Wait()

	applied := 0
	var id string
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].Replayed {
			applied++
		}
		if id == "" {
			id = results[i].ID
		}
		assert.Equal(t, id, results[i].ID)
	}
	assert.Equal(t, 1, applied)
	assert.True(t, liveBalance(t, conn, sender).IsZero())
	assert.True(t, liveBalance(t, conn, receiver).Equal(amount))
}
