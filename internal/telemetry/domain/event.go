package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the ledger.
const (
	EventAccountRegistered = "account_registered"
	EventLoginSucceeded    = "login_succeeded"
	EventLoginFailed       = "login_failed"
	EventCodeVerified      = "code_verified"
	EventCodeRejected      = "code_rejected"
	EventLogout            = "logout"
	EventTransferCommitted = "transfer_committed"
	EventTransferRejected  = "transfer_rejected"
	EventHTTPRequest       = "http_request"
)

// Event is a ledger telemetry event. It is serialized as JSON onto the event bus and mirrored
// as an OTel log record. Codes, passwords and tokens never appear in an event.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Source    string            `json:"source"`
	AccountID string            `json:"account_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewEvent returns an event stamped with a fresh ID and the current UTC time.
func NewEvent(eventType, source, accountID, sessionID string, metadata map[string]string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		AccountID: accountID,
		SessionID: sessionID,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
}
