package domain

import "time"

// Challenge is the live one-time code for an account (stored in otp_challenges).
// There is at most one per account; it is bound to the login attempt (session) that minted it.
type Challenge struct {
	AccountID string
	SessionID string
	CodeHash  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Attempts  int
}

// Expired reports whether now is past the validity window. The boundary instant is still valid.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Action is what a verification decided to do with the locked challenge row.
type Action int

const (
	// Keep leaves the challenge as is.
	Keep Action = iota
	// CountFailure increments Attempts.
	CountFailure
	// Consume deletes the challenge.
	Consume
)
