package rowguard

import (
	"context"
	"fmt"

	"github.com/xraph/rowguard/schema"
)

// Evaluator produces allow/deny decisions for row operations.
// Implementations must be pure functions of the request and committed
// storage state, and safe for concurrent use; the engine shares one
// evaluator across all requests without synchronization.
type Evaluator interface {
	Evaluate(ctx context.Context, set *schema.Set, rows RowReader, req *CheckRequest) (*CheckResult, error)
}

// DefaultEvaluator returns the ownership evaluator with the default
// one-hop chain limit.
func DefaultEvaluator() Evaluator { return OwnershipEvaluator(1) }

// OwnershipEvaluator returns an evaluator that allows an operation iff the
// principal is privileged or owns the row, following at most maxDepth
// parent hops to resolve the owner.
func OwnershipEvaluator(maxDepth int) Evaluator { return &ownerEvaluator{maxDepth: maxDepth} }

type ownerEvaluator struct {
	maxDepth int
}

func (ev *ownerEvaluator) Evaluate(ctx context.Context, set *schema.Set, rows RowReader, req *CheckRequest) (*CheckResult, error) {
	binding := set.Binding(req.Resource)
	if binding == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, req.Resource)
	}

	// The privileged role bypasses ownership everywhere, including rows
	// whose chain is unresolvable. Kept as the first check so the whole
	// privileged path is auditable in one place.
	if req.Principal.IsService() {
		return &CheckResult{Allowed: true, Decision: DecisionAllow}, nil
	}
	if req.Principal.ID == "" {
		return &CheckResult{Decision: DecisionDenyAnonymous, Reason: "request carries no principal id"}, nil
	}

	switch req.Operation {
	case OpSelect, OpDelete:
		return ev.ownerDecision(ctx, set, rows, binding, req.Row, req.Principal)
	case OpInsert:
		// Proposed rows are validated before they exist; an insert whose
		// parent reference does not resolve yet is denied, not deferred.
		return ev.ownerDecision(ctx, set, rows, binding, req.Row, req.Principal)
	case OpUpdate:
		pre := req.PreImage
		if pre == nil {
			pre = req.Row
		}
		result, err := ev.ownerDecision(ctx, set, rows, binding, pre, req.Principal)
		if err != nil || !result.Allowed {
			return result, err
		}
		result, err = ev.ownerDecision(ctx, set, rows, binding, req.Row, req.Principal)
		if err != nil {
			return nil, err
		}
		if !result.Allowed && result.Decision == DecisionDenyNotOwner {
			result.Decision = DecisionDenyPostImage
			result.Reason = "update would hand the row to another principal"
		}
		return result, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, req.Operation)
	}
}

func (ev *ownerEvaluator) ownerDecision(ctx context.Context, set *schema.Set, rows RowReader, b *schema.Binding, row Row, p Principal) (*CheckResult, error) {
	owner, ok, err := resolveOwner(ctx, set, rows, b, row, ev.maxDepth)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &CheckResult{Decision: DecisionDenyUnresolvable, Reason: "ownership chain is unresolvable"}, nil
	}
	if owner != p.ID {
		return &CheckResult{Decision: DecisionDenyNotOwner, Reason: "row resolves to another owner"}, nil
	}
	return &CheckResult{Allowed: true, Decision: DecisionAllow}, nil
}
