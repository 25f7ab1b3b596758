// Package interceptors carries the request identity and client address set by the HTTP middleware.
package interceptors

import (
	"context"

	sessiondomain "custodial-ledger/internal/session/domain"
)

type contextKey struct{ name string }

var (
	accountIDKey = contextKey{"account_id"}
	sessionIDKey = contextKey{"session_id"}
	stateKey     = contextKey{"session_state"}
	clientIPKey  = contextKey{"client_ip"}
)

// WithIdentity returns a context carrying the caller's account, session and session state.
// Handlers and services read these via GetAccountID, GetSessionID and GetSessionState.
func WithIdentity(ctx context.Context, accountID, sessionID string, state sessiondomain.State) context.Context {
	ctx = context.WithValue(ctx, accountIDKey, accountID)
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	ctx = context.WithValue(ctx, stateKey, state)
	return ctx
}

// GetAccountID returns the account_id from context and true if set; otherwise "", false.
func GetAccountID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(accountIDKey).(string)
	return v, ok
}

// GetSessionID returns the session_id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	return v, ok
}

// GetSessionState returns the session state from context and true if set.
func GetSessionState(ctx context.Context) (sessiondomain.State, bool) {
	v, ok := ctx.Value(stateKey).(sessiondomain.State)
	return v, ok
}

// WithClientIP returns a context carrying the client IP resolved by the transport.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the client IP from context, or "unknown".
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
