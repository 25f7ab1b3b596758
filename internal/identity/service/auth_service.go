package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	accountdomain "custodial-ledger/internal/account/domain"
	accountrepo "custodial-ledger/internal/account/repository"
	"custodial-ledger/internal/audit"
	"custodial-ledger/internal/devotp"
	"custodial-ledger/internal/mfa"
	"custodial-ledger/internal/mfa/delivery"
	"custodial-ledger/internal/security"
	sessiondomain "custodial-ledger/internal/session/domain"
	"custodial-ledger/internal/telemetry"
	telemetrydomain "custodial-ledger/internal/telemetry/domain"
)

// Sentinel errors for the auth service; the transport maps them to error kinds.
var (
	ErrValidation         = errors.New("validation error")
	ErrDuplicateIdentity  = accountrepo.ErrDuplicateIdentity
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrUnauthorized       = errors.New("no valid session")
	ErrDeliveryFailed     = errors.New("verification code could not be delivered")
)

const (
	minPasswordLen = 8
	maxPasswordLen = 72 // bcrypt ignores bytes past 72
	eventSource    = "identity"
)

// LoginResult is the outcome of a successful password check: a pending session and its token.
type LoginResult struct {
	Token     string
	SessionID string
	AccountID string
	ExpiresAt time.Time
	// DevCode is set only when delivery failed and dev disclosure is enabled.
	DevCode string
}

// AccountRepo is the minimal account repository needed by the auth service.
type AccountRepo interface {
	Create(ctx context.Context, a *accountdomain.Account) error
	GetByID(ctx context.Context, id string) (*accountdomain.Account, error)
	GetByLogin(ctx context.Context, login string) (*accountdomain.Account, error)
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	Create(ctx context.Context, s *sessiondomain.Session) error
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	Elevate(ctx context.Context, id string, at, expiresAt time.Time) (bool, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// OTPGate issues and checks one-time codes. *mfa.Gate implements it.
type OTPGate interface {
	Issue(ctx context.Context, accountID, sessionID string) (string, time.Time, error)
	Verify(ctx context.Context, accountID, sessionID, code string, now time.Time) error
	Discard(ctx context.Context, sessionID string) error
}

// Options tune session lifetimes and onboarding.
type Options struct {
	// OpeningBalance is credited to every new account.
	OpeningBalance decimal.Decimal
	// PendingTTL bounds how long a password-verified session may wait for its code.
	// It must outlive the code window so a late code is reported as expired.
	PendingTTL time.Duration
	// SessionTTL is the absolute lifetime of a session from login.
	SessionTTL time.Duration
	// IdleTTL expires sessions that have not been used for this long. Zero disables it.
	IdleTTL time.Duration
	// ReturnCodeToClient discloses the code in the login result when delivery fails. Never set in production.
	ReturnCodeToClient bool
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// AuthService implements register, login, code verification, session authentication and logout.
type AuthService struct {
	accounts  AccountRepo
	sessions  SessionRepo
	otp       OTPGate
	hasher    *security.Hasher
	tokens    *security.TokenProvider
	deliverer delivery.Deliverer
	devStore  devotp.Store
	audit     audit.AuditLogger
	events    telemetry.EventEmitter
	log       logrus.FieldLogger
	opts      Options
	nowF      func() time.Time
}

// Deps holds the optional collaborators of AuthService. Nil fields disable the corresponding feature.
type Deps struct {
	Deliverer delivery.Deliverer
	DevStore  devotp.Store
	Audit     audit.AuditLogger
	Events    telemetry.EventEmitter
	Log       logrus.FieldLogger
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	accounts AccountRepo,
	sessions SessionRepo,
	otp OTPGate,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	deps Deps,
	opts Options,
) *AuthService {
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 15 * time.Minute
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 12 * time.Hour
	}
	nowF := opts.Now
	if nowF == nil {
		nowF = time.Now
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthService{
		accounts:  accounts,
		sessions:  sessions,
		otp:       otp,
		hasher:    hasher,
		tokens:    tokens,
		deliverer: deps.Deliverer,
		devStore:  deps.DevStore,
		audit:     deps.Audit,
		events:    deps.Events,
		log:       log.WithField("component", "identity"),
		opts:      opts,
		nowF:      nowF,
	}
}

// Register creates an account with the opening balance. Login uniqueness is enforced by storage,
// so concurrent registrations of one login yield exactly one account.
func (s *AuthService) Register(ctx context.Context, login, password, contact string) (string, error) {
	contact = strings.TrimSpace(contact)
	if err := accountdomain.ValidateLogin(login); err != nil {
		return "", fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if err := validatePassword(password); err != nil {
		return "", fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if _, err := accountdomain.ClassifyContact(contact); err != nil {
		return "", fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return "", err
	}
	now := s.nowF().UTC()
	acct := &accountdomain.Account{
		ID:           uuid.New().String(),
		Login:        login,
		PasswordHash: hashed,
		Contact:      contact,
		Balance:      s.opts.OpeningBalance,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := acct.Validate(); err != nil {
		return "", fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		return "", err
	}
	s.logAudit(ctx, acct.ID, audit.ActionRegister, audit.ResourceAccount, "")
	s.emit(telemetrydomain.EventAccountRegistered, acct.ID, "", nil)
	return acct.ID, nil
}

// Login checks the password and opens a pending session. A code is issued and sent to the
// account's contact; the session only becomes authorized through VerifyCode.
func (s *AuthService) Login(ctx context.Context, login, password string) (*LoginResult, error) {
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	acct, err := s.accounts.GetByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		_ = s.hasher.CompareDummy([]byte(password))
		s.logAudit(ctx, "", audit.ActionLoginFailure, audit.ResourceSession, "")
		s.emit(telemetrydomain.EventLoginFailed, "", "", nil)
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(acct.PasswordHash, []byte(password)); err != nil {
		s.logAudit(ctx, acct.ID, audit.ActionLoginFailure, audit.ResourceSession, "")
		s.emit(telemetrydomain.EventLoginFailed, acct.ID, "", nil)
		return nil, ErrInvalidCredentials
	}

	now := s.nowF().UTC()
	sess := &sessiondomain.Session{
		ID:         uuid.New().String(),
		AccountID:  acct.ID,
		State:      sessiondomain.StatePendingOTP,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.opts.PendingTTL),
		LastSeenAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	code, codeExpiresAt, err := s.otp.Issue(ctx, acct.ID, sess.ID)
	if err != nil {
		s.abandon(ctx, sess.ID)
		return nil, err
	}
	tokenExpiresAt := now.Add(s.opts.SessionTTL)
	token, err := s.tokens.Issue(sess.ID, acct.ID, tokenExpiresAt)
	if err != nil {
		s.abandon(ctx, sess.ID)
		return nil, err
	}
	result := &LoginResult{Token: token, SessionID: sess.ID, AccountID: acct.ID, ExpiresAt: tokenExpiresAt}

	if derr := s.deliver(ctx, acct.Contact, code); derr != nil {
		entry := s.log.WithError(derr).WithFields(logrus.Fields{"account_id": acct.ID, "session_id": sess.ID})
		if !s.opts.ReturnCodeToClient {
			entry.Error("code delivery failed")
			s.abandon(ctx, sess.ID)
			return nil, ErrDeliveryFailed
		}
		entry.Warn("code delivery failed; disclosing code to client (dev mode)")
		result.DevCode = code
		if s.devStore != nil {
			s.devStore.Put(ctx, sess.ID, code, codeExpiresAt)
		}
	}

	s.logAudit(ctx, acct.ID, audit.ActionLoginSuccess, audit.ResourceSession, "")
	s.emit(telemetrydomain.EventLoginSucceeded, acct.ID, sess.ID, nil)
	return result, nil
}

// VerifyCode elevates a pending session to authorized when code matches its live challenge.
// Wrong or expired codes leave the session pending and return the gate's error.
func (s *AuthService) VerifyCode(ctx context.Context, sessionID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("%w: code is required", ErrValidation)
	}
	// Malformed input never reaches the gate, so it does not cost an attempt.
	if !mfa.WellFormed(code) {
		return fmt.Errorf("%w: code must be 6 digits", ErrValidation)
	}
	now := s.nowF().UTC()
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.State != sessiondomain.StatePendingOTP || !sess.Live(now, s.opts.IdleTTL) {
		return ErrUnauthorized
	}
	if err := s.otp.Verify(ctx, sess.AccountID, sess.ID, code, now); err != nil {
		if errors.Is(err, mfa.ErrCodeMismatch) || errors.Is(err, mfa.ErrExpired) || errors.Is(err, mfa.ErrTooManyAttempts) {
			s.logAudit(ctx, sess.AccountID, audit.ActionCodeRejected, audit.ResourceSession, err.Error())
			s.emit(telemetrydomain.EventCodeRejected, sess.AccountID, sess.ID, map[string]string{"reason": err.Error()})
		}
		return err
	}
	elevated, err := s.sessions.Elevate(ctx, sess.ID, now, sess.CreatedAt.Add(s.opts.SessionTTL))
	if err != nil {
		return err
	}
	if !elevated {
		// The session was removed (logout) between the check and the update.
		return ErrUnauthorized
	}
	if s.devStore != nil {
		s.devStore.Delete(ctx, sess.ID)
	}
	s.logAudit(ctx, sess.AccountID, audit.ActionCodeVerified, audit.ResourceSession, "")
	s.emit(telemetrydomain.EventCodeVerified, sess.AccountID, sess.ID, nil)
	return nil
}

// Authenticate resolves a bearer token to its live session and refreshes its idle timer.
// Any failure is ErrUnauthorized; storage errors are returned as-is.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*sessiondomain.Session, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	sessionID, accountID, err := s.tokens.Validate(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.AccountID != accountID {
		return nil, ErrUnauthorized
	}
	now := s.nowF().UTC()
	if !sess.Live(now, s.opts.IdleTTL) {
		if err := s.sessions.Delete(ctx, sess.ID); err != nil {
			s.log.WithError(err).WithField("session_id", sess.ID).Warn("failed to delete expired session")
		}
		return nil, ErrUnauthorized
	}
	if err := s.sessions.UpdateLastSeen(ctx, sess.ID, now); err != nil {
		s.log.WithError(err).WithField("session_id", sess.ID).Warn("failed to update last seen")
	} else {
		sess.LastSeenAt = now
	}
	return sess, nil
}

// Logout destroys the session and any challenge bound to it. Logging out an unknown session is not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrUnauthorized
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.otp.Discard(ctx, sessionID); err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	if s.devStore != nil {
		s.devStore.Delete(ctx, sessionID)
	}
	if sess != nil {
		s.logAudit(ctx, sess.AccountID, audit.ActionLogout, audit.ResourceSession, "")
		s.emit(telemetrydomain.EventLogout, sess.AccountID, sessionID, nil)
	}
	return nil
}

// deliver sends code through the configured channel; no channel counts as a failed delivery.
func (s *AuthService) deliver(ctx context.Context, contact, code string) error {
	if s.deliverer == nil {
		return delivery.ErrNoChannel
	}
	return s.deliverer.Deliver(ctx, contact, code)
}

// abandon removes a half-created login. Failures are logged; the sweeper reclaims leftovers.
func (s *AuthService) abandon(ctx context.Context, sessionID string) {
	if err := s.otp.Discard(ctx, sessionID); err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("failed to discard challenge")
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("failed to delete pending session")
	}
}

func (s *AuthService) logAudit(ctx context.Context, accountID, action, resource, metadata string) {
	if s.audit == nil {
		return
	}
	s.audit.LogEvent(ctx, accountID, action, resource, metadata)
}

func (s *AuthService) emit(eventType, accountID, sessionID string, meta map[string]string) {
	if s.events == nil {
		return
	}
	telemetry.EmitAsync(s.events, telemetrydomain.NewEvent(eventType, eventSource, accountID, sessionID, meta))
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	if len(password) > maxPasswordLen {
		return fmt.Errorf("password must be at most %d bytes", maxPasswordLen)
	}
	return nil
}
