// Package service implements balance reads and transfers for authorized sessions.
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
	"custodial-ledger/internal/audit"
	"custodial-ledger/internal/ledger/domain"
	"custodial-ledger/internal/ledger/repository"
	"custodial-ledger/internal/money"
	"custodial-ledger/internal/platform/authz"
	policyengine "custodial-ledger/internal/policy/engine"
	"custodial-ledger/internal/telemetry"
	telemetrydomain "custodial-ledger/internal/telemetry/domain"
)

var (
	ErrUnauthorized        = authz.ErrUnauthorized
	ErrInvalidAmount       = money.ErrInvalidAmount
	ErrReceiverNotFound    = errors.New("receiver not found")
	ErrSelfTransfer        = errors.New("cannot transfer to yourself")
	ErrPolicyDenied        = errors.New("transfer denied by policy")
	ErrInsufficientFunds   = repository.ErrInsufficientFunds
	ErrIdempotencyConflict = repository.ErrIdempotencyConflict
	ErrValidation          = errors.New("validation error")
)

const (
	maxIdempotencyKeyLen = 128
	maxHistoryLimit      = 200
	eventSource          = "ledger"
)

// TransferRequest is a transfer as submitted by the authorized caller.
type TransferRequest struct {
	ReceiverLogin  string
	Amount         string
	IdempotencyKey string
}

// AccountReader is the part of the account store the ledger reads.
type AccountReader interface {
	GetByLogin(ctx context.Context, login string) (*accountdomain.Account, error)
	Balance(ctx context.Context, id string) (decimal.Decimal, error)
}

// LedgerService moves funds between accounts. Every method requires an authorized session in ctx.
type LedgerService struct {
	accounts  AccountReader
	transfers repository.Repository
	policy    policyengine.Evaluator
	audit     audit.AuditLogger
	events    telemetry.EventEmitter
	log       logrus.FieldLogger
	nowF      func() time.Time
}

// NewLedgerService returns a LedgerService. policy, auditLogger and events may be nil.
func NewLedgerService(
	accounts AccountReader,
	transfers repository.Repository,
	policy policyengine.Evaluator,
	auditLogger audit.AuditLogger,
	events telemetry.EventEmitter,
	log logrus.FieldLogger,
) *LedgerService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LedgerService{
		accounts:  accounts,
		transfers: transfers,
		policy:    policy,
		audit:     auditLogger,
		events:    events,
		log:       log.WithField("component", "ledger"),
		nowF:      time.Now,
	}
}

// Balance returns the caller's committed balance.
func (s *LedgerService) Balance(ctx context.Context) (decimal.Decimal, error) {
	accountID, _, err := authz.RequireAuthorized(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return s.accounts.Balance(ctx, accountID)
}

// Transfer moves req.Amount from the caller to the receiver. Checks run in a fixed order:
// session, amount, receiver, self-transfer, policy; funds are checked at commit.
func (s *LedgerService) Transfer(ctx context.Context, req TransferRequest) (*domain.Transfer, error) {
	senderID, sessionID, err := authz.RequireAuthorized(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		return nil, fmt.Errorf("%w: idempotency key must be at most %d characters", ErrValidation, maxIdempotencyKeyLen)
	}
	receiver, err := s.accounts.GetByLogin(ctx, req.ReceiverLogin)
	if err != nil {
		return nil, err
	}
	if receiver == nil {
		return nil, ErrReceiverNotFound
	}
	if receiver.ID == senderID {
		return nil, s.reject(ctx, senderID, sessionID, ErrSelfTransfer, "")
	}
	if s.policy != nil {
		decision, err := s.policy.EvaluateTransfer(ctx, policyengine.TransferInput{
			SenderID:   senderID,
			ReceiverID: receiver.ID,
			Amount:     amount,
		})
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			reason := strings.Join(decision.Reasons, "; ")
			return nil, s.reject(ctx, senderID, sessionID, fmt.Errorf("%w: %s", ErrPolicyDenied, reason), reason)
		}
	}

	t := &domain.Transfer{
		ID:             uuid.New().String(),
		SenderID:       senderID,
		ReceiverID:     receiver.ID,
		Amount:         amount,
		IdempotencyKey: key,
		CreatedAt:      s.nowF().UTC(),
	}
	committed, err := s.transfers.Execute(ctx, t)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrReceiverNotFound
		}
		if errors.Is(err, repository.ErrInsufficientFunds) {
			return nil, s.reject(ctx, senderID, sessionID, ErrInsufficientFunds, "")
		}
		return nil, err
	}
	if committed.Replayed {
		s.log.WithFields(logrus.Fields{"account_id": senderID, "transfer_id": committed.ID}).Info("idempotent transfer replayed")
		return committed, nil
	}

	meta := transferMetadata(committed)
	s.logAudit(ctx, senderID, audit.ActionTransfer,
		fmt.Sprintf("transfer_id=%s receiver_id=%s amount=%s", committed.ID, committed.ReceiverID, meta["amount"]))
	s.emit(telemetrydomain.EventTransferCommitted, senderID, sessionID, meta)
	return committed, nil
}

// History lists the caller's most recent transfers, newest first.
func (s *LedgerService) History(ctx context.Context, limit int) ([]*domain.Transfer, error) {
	accountID, _, err := authz.RequireAuthorized(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = repository.DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.transfers.ListByAccount(ctx, accountID, limit)
}

func (s *LedgerService) reject(ctx context.Context, senderID, sessionID string, err error, detail string) error {
	reason := err.Error()
	if detail != "" {
		reason = detail
	}
	s.logAudit(ctx, senderID, audit.ActionTransferDenied, reason)
	s.emit(telemetrydomain.EventTransferRejected, senderID, sessionID, map[string]string{"reason": reason})
	return err
}

func (s *LedgerService) logAudit(ctx context.Context, accountID, action, metadata string) {
	if s.audit == nil {
		return
	}
	s.audit.LogEvent(ctx, accountID, action, audit.ResourceLedger, metadata)
}

func (s *LedgerService) emit(eventType, accountID, sessionID string, meta map[string]string) {
	if s.events == nil {
		return
	}
	telemetry.EmitAsync(s.events, telemetrydomain.NewEvent(eventType, eventSource, accountID, sessionID, meta))
}

func transferMetadata(t *domain.Transfer) map[string]string {
	return map[string]string{
		"transfer_id": t.ID,
		"sender_id":   t.SenderID,
		"receiver_id": t.ReceiverID,
		"amount":      money.Format(t.Amount),
	}
}
