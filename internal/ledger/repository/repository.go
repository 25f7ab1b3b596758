package repository

import (
	"context"
	"errors"

	"custodial-ledger/internal/ledger/domain"
)

var (
	// ErrInsufficientFunds is returned when the sender's committed balance is below the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAccountNotFound is returned when either party no longer exists at commit time.
	ErrAccountNotFound = errors.New("account not found")
	// ErrIdempotencyConflict is returned when an idempotency key is reused for a different transfer.
	ErrIdempotencyConflict = errors.New("idempotency key already used for a different transfer")
)

// DefaultHistoryLimit is used when a caller asks for a non-positive number of transfers.
const DefaultHistoryLimit = 50

// Repository is the only writer of account balances.
type Repository interface {
	// Execute atomically checks the sender's funds, moves t.Amount and records t.
	// With a non-empty idempotency key, a repeat of an earlier transfer returns the stored
	// transfer with Replayed set and moves nothing.
	Execute(ctx context.Context, t *domain.Transfer) (*domain.Transfer, error)
	// ListByAccount returns the most recent transfers sent or received by accountID, newest first.
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.Transfer, error)
}
