package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/shopspring/decimal"
)

const policyQuery = "allow = data.ledger.transfer.allow; reasons = data.ledger.transfer.deny"

// defaultRegoPolicy caps single transfers at input.limits.max_amount when it is positive.
const defaultRegoPolicy = `package ledger.transfer

default allow := false

allow if {
	count(deny) == 0
}

deny contains "amount exceeds the per-transfer limit" if {
	input.limits.max_amount > 0
	input.amount > input.limits.max_amount
}

deny contains "sender and receiver must differ" if {
	input.sender_id == input.receiver_id
}
`

// OPAEvaluator evaluates the transfer policy with an in-process OPA Rego engine.
// The query is compiled once and reused.
type OPAEvaluator struct {
	query     rego.PreparedEvalQuery
	maxAmount decimal.Decimal
}

// NewOPAEvaluator compiles the default policy plus any extra Rego modules. Extra modules must
// live in package ledger.transfer and may add deny reasons. A zero maxAmount disables the cap.
func NewOPAEvaluator(ctx context.Context, maxAmount decimal.Decimal, extraModules ...string) (*OPAEvaluator, error) {
	modules := map[string]string{"policy_0.rego": defaultRegoPolicy}
	for i, m := range extraModules {
		modules[fmt.Sprintf("policy_%d.rego", i+1)] = m
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile policies: %w", err)
	}
	q, err := rego.New(rego.Query(policyQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy query: %w", err)
	}
	return &OPAEvaluator{query: q, maxAmount: maxAmount}, nil
}

// HealthCheck evaluates a trivially allowed transfer. Returns nil when the engine answers.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.EvaluateTransfer(ctx, TransferInput{SenderID: "health-a", ReceiverID: "health-b", Amount: decimal.New(1, -2)})
	return err
}

// EvaluateTransfer runs the policy. Errors mean the policy could not be evaluated; callers must not
// treat them as an allow.
func (e *OPAEvaluator) EvaluateTransfer(ctx context.Context, in TransferInput) (Decision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(e.buildInput(in)))
	if err != nil {
		return Decision{}, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 {
		return Decision{}, fmt.Errorf("policy query returned no result")
	}
	allowed, ok := rs[0].Bindings["allow"].(bool)
	if !ok {
		return Decision{}, fmt.Errorf("policy allow is not a boolean")
	}
	var reasons []string
	if set, ok := rs[0].Bindings["reasons"].([]interface{}); ok {
		for _, r := range set {
			if s, ok := r.(string); ok {
				reasons = append(reasons, s)
			}
		}
	}
	sort.Strings(reasons)
	if allowed {
		reasons = nil
	}
	return Decision{Allowed: allowed, Reasons: reasons}, nil
}

func (e *OPAEvaluator) buildInput(in TransferInput) map[string]interface{} {
	return map[string]interface{}{
		"sender_id":   in.SenderID,
		"receiver_id": in.ReceiverID,
		// json.Number keeps the decimal exact inside Rego.
		"amount": json.Number(in.Amount.String()),
		"limits": map[string]interface{}{
			"max_amount": json.Number(e.maxAmount.String()),
		},
	}
}
