package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"custodial-ledger/internal/db"
	"custodial-ledger/internal/ledger/domain"
)

// PostgresRepository implements Repository with row-level locks inside one READ COMMITTED transaction.
type PostgresRepository struct {
	db        *sql.DB
	txTimeout time.Duration
}

// NewPostgresRepository returns a ledger repository. txTimeout bounds each transfer transaction.
func NewPostgresRepository(conn *sql.DB, txTimeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: conn, txTimeout: txTimeout}
}

const transferColumns = `id, sender_id, receiver_id, amount, idempotency_key, created_at`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *PostgresRepository) Execute(ctx context.Context, t *domain.Transfer) (*domain.Transfer, error) {
	if t.IdempotencyKey != "" {
		prior, err := findByKey(ctx, r.db, t.SenderID, t.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return replay(prior, t)
		}
	}

	var committed *domain.Transfer
	err := db.WithTx(ctx, r.db, r.txTimeout, func(tx *sql.Tx) error {
		// Lock both rows in id order so opposite-direction transfers cannot deadlock.
		first, second := t.SenderID, t.ReceiverID
		if second < first {
			first, second = second, first
		}
		balances := make(map[string]decimal.Decimal, 2)
		for _, id := range []string{first, second} {
			var bal decimal.Decimal
			err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&bal)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			if err != nil {
				return err
			}
			balances[id] = bal
		}
		// A same-key request may have committed while we waited on the sender lock.
		if t.IdempotencyKey != "" {
			prior, err := findByKey(ctx, tx, t.SenderID, t.IdempotencyKey)
			if err != nil {
				return err
			}
			if prior != nil {
				committed = prior
				return nil
			}
		}
		if balances[t.SenderID].LessThan(t.Amount) {
			return ErrInsufficientFunds
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = balance - $2, updated_at = $3 WHERE id = $1 AND balance >= $2`,
			t.SenderID, t.Amount, t.CreatedAt,
		)
		if db.IsCheckViolation(err) {
			return ErrInsufficientFunds
		}
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrInsufficientFunds
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = balance + $2, updated_at = $3 WHERE id = $1`,
			t.ReceiverID, t.Amount, t.CreatedAt,
		); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO ledger_transfers (`+transferColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, t.SenderID, t.ReceiverID, t.Amount, nullString(t.IdempotencyKey), t.CreatedAt,
		)
		return err
	})
	if err != nil {
		// A concurrent request with the same key committed first.
		if t.IdempotencyKey != "" && db.IsUniqueViolation(err) {
			prior, ferr := findByKey(ctx, r.db, t.SenderID, t.IdempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			if prior != nil {
				return replay(prior, t)
			}
		}
		return nil, err
	}
	if committed != nil {
		return replay(committed, t)
	}
	return t, nil
}

func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.Transfer, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM ledger_transfers
		 WHERE sender_id = $1 OR receiver_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Transfer
	for rows.Next() {
		var t domain.Transfer
		var key sql.NullString
		if err := rows.Scan(&t.ID, &t.SenderID, &t.ReceiverID, &t.Amount, &key, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.IdempotencyKey = key.String
		out = append(out, &t)
	}
	return out, rows.Err()
}

func findByKey(ctx context.Context, q querier, senderID, key string) (*domain.Transfer, error) {
	var t domain.Transfer
	var k sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM ledger_transfers WHERE sender_id = $1 AND idempotency_key = $2`,
		senderID, key,
	).Scan(&t.ID, &t.SenderID, &t.ReceiverID, &t.Amount, &k, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.IdempotencyKey = k.String
	return &t, nil
}

func replay(prior, req *domain.Transfer) (*domain.Transfer, error) {
	if !prior.SameRequest(req) {
		return nil, ErrIdempotencyConflict
	}
	out := *prior
	out.Replayed = true
	return &out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
