package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransferInput is what the transfer policy sees about a transfer that already passed validation.
type TransferInput struct {
	SenderID   string
	ReceiverID string
	Amount     decimal.Decimal
}

// Decision is the result of a policy evaluation. Reasons is empty when Allowed is true.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Evaluator decides whether a transfer may proceed.
type Evaluator interface {
	EvaluateTransfer(ctx context.Context, in TransferInput) (Decision, error)
}
