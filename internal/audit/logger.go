// Package audit records security-relevant events (logins, code checks, transfers) outside ledger transactions.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"custodial-ledger/internal/audit/domain"
	auditrepo "custodial-ledger/internal/audit/repository"
)

// Audit actions.
const (
	ActionRegister       = "register"
	ActionLoginSuccess   = "login_success"
	ActionLoginFailure   = "login_failure"
	ActionCodeVerified   = "code_verified"
	ActionCodeRejected   = "code_rejected"
	ActionLogout         = "logout"
	ActionTransfer       = "transfer"
	ActionTransferDenied = "transfer_denied"
)

// Audit resources.
const (
	ResourceAccount = "account"
	ResourceSession = "session"
	ResourceLedger  = "ledger"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event. LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, accountID, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         logrus.FieldLogger
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log logrus.FieldLogger) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: log.WithField("component", "audit")}
}

// LogEvent writes one audit log entry. Errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, accountID, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{"action": action, "resource": resource}).
			Warn("failed to write audit event")
	}
}
