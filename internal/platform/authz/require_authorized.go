// Package authz guards operations that require a fully verified session.
package authz

import (
	"context"
	"errors"

	"custodial-ledger/internal/server/interceptors"
	sessiondomain "custodial-ledger/internal/session/domain"
)

// ErrUnauthorized is returned when the caller has no session, or the session has not completed code verification.
var ErrUnauthorized = errors.New("an authorized session is required")

// RequireAuthorized ensures the caller holds an authorized session.
// Returns (accountID, sessionID, nil) on success.
func RequireAuthorized(ctx context.Context) (accountID, sessionID string, err error) {
	accountID, okAcc := interceptors.GetAccountID(ctx)
	sessionID, okSess := interceptors.GetSessionID(ctx)
	state, okState := interceptors.GetSessionState(ctx)
	if !okAcc || accountID == "" || !okSess || sessionID == "" || !okState {
		return "", "", ErrUnauthorized
	}
	if state != sessiondomain.StateAuthorized {
		return "", "", ErrUnauthorized
	}
	return accountID, sessionID, nil
}

// RequireSession ensures the caller holds any live session (pending or authorized).
func RequireSession(ctx context.Context) (accountID, sessionID string, state sessiondomain.State, err error) {
	accountID, okAcc := interceptors.GetAccountID(ctx)
	sessionID, okSess := interceptors.GetSessionID(ctx)
	state, okState := interceptors.GetSessionState(ctx)
	if !okAcc || accountID == "" || !okSess || sessionID == "" || !okState {
		return "", "", "", ErrUnauthorized
	}
	return accountID, sessionID, state, nil
}
