package domain

import "time"

// AuditLog is a security audit event. AccountID is empty for events with no known account
// (e.g. a login attempt for an unknown identity).
type AuditLog struct {
	ID        string
	AccountID string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
