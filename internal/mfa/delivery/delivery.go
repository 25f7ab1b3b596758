// Package delivery sends one-time codes to an account's contact over SMS or email.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"custodial-ledger/internal/account/domain"
)

// ErrNoChannel is returned when no configured channel can reach the contact.
var ErrNoChannel = errors.New("delivery: no channel configured for contact")

// Deliverer sends a one-time code to a contact. Implementations must not log the code.
type Deliverer interface {
	Deliver(ctx context.Context, contact, code string) error
}

// Router picks a channel by contact kind: phone numbers go to SMS, everything else to email.
// A nil channel means that kind of contact cannot be reached.
type Router struct {
	SMS   Deliverer
	Email Deliverer
}

// NewRouter returns a Router over the given channels. Either may be nil.
func NewRouter(sms, email Deliverer) *Router {
	return &Router{SMS: sms, Email: email}
}

// Deliver routes code to contact.
func (r *Router) Deliver(ctx context.Context, contact, code string) error {
	kind, err := domain.ClassifyContact(contact)
	if err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	var ch Deliverer
	switch kind {
	case domain.ContactPhone:
		ch = r.SMS
	case domain.ContactEmail:
		ch = r.Email
	}
	if ch == nil {
		return ErrNoChannel
	}
	return ch.Deliver(ctx, contact, code)
}

// Enabled reports whether at least one channel is configured.
func (r *Router) Enabled() bool {
	return r != nil && (r.SMS != nil || r.Email != nil)
}
