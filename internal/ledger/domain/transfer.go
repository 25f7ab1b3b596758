package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is a committed movement of funds between two accounts. Rows are never updated.
type Transfer struct {
	ID             string
	SenderID       string
	ReceiverID     string
	Amount         decimal.Decimal
	IdempotencyKey string // empty when the client sent none
	CreatedAt      time.Time

	// Replayed is set when the transfer was returned for a repeated idempotency key
	// instead of being executed again. Not persisted.
	Replayed bool
}

// Direction reports the transfer from accountID's point of view: "sent", "received" or "" if unrelated.
func (t *Transfer) Direction(accountID string) string {
	switch accountID {
	case t.SenderID:
		return "sent"
	case t.ReceiverID:
		return "received"
	default:
		return ""
	}
}

// SameRequest reports whether other asks for the same movement as t, ignoring identity and time.
func (t *Transfer) SameRequest(other *Transfer) bool {
	return t.SenderID == other.SenderID &&
		t.ReceiverID == other.ReceiverID &&
		t.Amount.Equal(other.Amount)
}
