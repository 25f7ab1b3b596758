package repository

import (
	"context"

	"custodial-ledger/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.AuditLog, error)
}
