package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"custodial-ledger/internal/account/domain"
	"custodial-ledger/internal/db"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

const accountColumns = `id, login, password_hash, contact, balance, created_at, updated_at`

// Create inserts the account. Login uniqueness is enforced by the accounts_login_key
// constraint, so two concurrent registrations of one login cannot both succeed.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Login, a.PasswordHash, a.Contact, a.Balance, a.CreatedAt, a.UpdatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateIdentity
	}
	return err
}

// GetByID returns the account for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByLogin returns the account for the exact (case-sensitive) login, or nil if not found.
func (r *PostgresRepository) GetByLogin(ctx context.Context, login string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE login = $1`, login)
	return scanAccount(row)
}

// Balance returns the committed balance of the account.
func (r *PostgresRepository) Balance(ctx context.Context, id string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := r.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1`, id).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	return bal, err
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Login, &a.PasswordHash, &a.Contact, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
