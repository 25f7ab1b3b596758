package domain

import "time"

// State is where a session sits in the login flow.
type State string

const (
	// StatePendingOTP: password accepted, code not yet verified.
	StatePendingOTP State = "pending_otp"
	// StateAuthorized: code verified; the session may read balances and move money.
	StateAuthorized State = "authorized"
)

// Session is a server-side login record referenced by the caller's signed token.
// There is no anonymous state: an anonymous caller has no session row.
type Session struct {
	ID         string
	AccountID  string
	State      State
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastSeenAt time.Time
}

// Authorized reports whether the session completed code verification.
func (s *Session) Authorized() bool {
	return s != nil && s.State == StateAuthorized
}

// Live reports whether the session is usable at now. A session past ExpiresAt, or idle
// for longer than idle (when idle > 0), is not live.
func (s *Session) Live(now time.Time, idle time.Duration) bool {
	if s == nil || now.After(s.ExpiresAt) {
		return false
	}
	if idle > 0 && now.Sub(s.LastSeenAt) > idle {
		return false
	}
	return true
}
