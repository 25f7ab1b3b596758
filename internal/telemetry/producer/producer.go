// Package producer publishes ledger events to the event bus (Kafka).
package producer

import (
	"context"

	"custodial-ledger/internal/telemetry/domain"
)

// Producer emits ledger events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, event *domain.Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
