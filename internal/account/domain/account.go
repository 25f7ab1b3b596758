package domain

import (
	"errors"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Account is a custodial account: a login handle, a password digest, a contact address for
// one-time codes and a non-negative balance.
type Account struct {
	ID           string
	Login        string // unique, case-sensitive, immutable
	PasswordHash string
	Contact      string // email address or phone number
	Balance      decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ContactKind tells the delivery layer which channel reaches the contact address.
type ContactKind string

const (
	ContactEmail ContactKind = "email"
	ContactPhone ContactKind = "phone"
)

var (
	loginPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,64}$`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
)

// ValidateLogin checks the login handle format.
func ValidateLogin(login string) error {
	if login == "" {
		return errors.New("login is required")
	}
	if !loginPattern.MatchString(login) {
		return errors.New("login must be 3-64 characters of letters, digits, '.', '_' or '-'")
	}
	return nil
}

// ClassifyContact returns the kind of contact address, or an error when it is neither an email nor a phone number.
func ClassifyContact(contact string) (ContactKind, error) {
	switch {
	case contact == "":
		return "", errors.New("contact is required")
	case emailPattern.MatchString(contact):
		return ContactEmail, nil
	case phonePattern.MatchString(contact):
		return ContactPhone, nil
	default:
		return "", errors.New("contact must be an email address or a phone number")
	}
}

// Validate validates the account for persistence. Returns an error describing the first validation failure.
func (a *Account) Validate() error {
	if err := ValidateLogin(a.Login); err != nil {
		return err
	}
	if a.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if _, err := ClassifyContact(a.Contact); err != nil {
		return err
	}
	if a.Balance.IsNegative() {
		return errors.New("balance must not be negative")
	}
	return nil
}
