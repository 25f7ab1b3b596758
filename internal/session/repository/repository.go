package repository

import (
	"context"
	"time"

	"custodial-ledger/internal/session/domain"
)

// Repository defines persistence for sessions.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// Elevate moves a pending session to authorized and extends it to expiresAt.
	// It reports false when the session is missing or not pending, so a session is elevated at most once.
	Elevate(ctx context.Context, id string, at, expiresAt time.Time) (bool, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes sessions past expiry or last seen before idleCutoff.
	DeleteExpired(ctx context.Context, now, idleCutoff time.Time) (int64, error)
}
