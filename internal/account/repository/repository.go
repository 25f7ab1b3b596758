package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"custodial-ledger/internal/account/domain"
)

var (
	// ErrDuplicateIdentity is returned by Create when the login is already taken.
	ErrDuplicateIdentity = errors.New("login already registered")
	// ErrNotFound is returned by Balance when the account does not exist.
	ErrNotFound = errors.New("account not found")
)

// Repository defines persistence for accounts. Balances are read here but only the
// ledger repository mutates them.
type Repository interface {
	Create(ctx context.Context, a *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByLogin(ctx context.Context, login string) (*domain.Account, error)
	Balance(ctx context.Context, id string) (decimal.Decimal, error)
}
