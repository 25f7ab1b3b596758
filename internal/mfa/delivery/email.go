package delivery

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

// mailSender is the subset of *gomail.Dialer used here.
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender delivers codes by SMTP.
type EmailSender struct {
	dialer   mailSender
	from     string
	validFor time.Duration
}

// NewEmailSender returns an EmailSender that dials host:port with the given credentials.
// validFor is quoted to the recipient as the code's lifetime.
func NewEmailSender(host string, port int, user, password, from string, validFor time.Duration) *EmailSender {
	return &EmailSender{
		dialer:   gomail.NewDialer(host, port, user, password),
		from:     from,
		validFor: validFor,
	}
}

// Deliver sends the code to the given address. The SMTP exchange does not honour ctx cancellation
// once started; ctx is checked before dialing.
func (s *EmailSender) Deliver(ctx context.Context, email, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Your verification code")

	body := fmt.Sprintf(`
		<h3>Sign-in verification</h3>
		<p>Your verification code is <strong>%s</strong>.</p>
		<p>This code is valid for %d minutes. If you did not try to sign in, you can ignore this email.</p>
	`, code, minutes(s.validFor))
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	return nil
}

func minutes(d time.Duration) int {
	m := int(d / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}
