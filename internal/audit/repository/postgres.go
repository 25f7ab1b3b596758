package repository

import (
	"context"
	"database/sql"

	"custodial-ledger/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create inserts the audit log entry. An empty AccountID is stored as NULL.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, account_id, action, resource, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, nullString(a.AccountID), a.Action, a.Resource, a.IP, nullString(a.Metadata), a.CreatedAt,
	)
	return err
}

// ListByAccount returns the most recent entries for accountID, newest first.
func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, action, resource, ip, metadata, created_at
		FROM audit_logs WHERE account_id = $1
		ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		var acc, meta sql.NullString
		if err := rows.Scan(&a.ID, &acc, &a.Action, &a.Resource, &a.IP, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.AccountID = acc.String
		a.Metadata = meta.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
