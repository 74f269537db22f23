// Package reconcile converges a live policy registry onto a declared
// binding set.
//
// The reconciler is deployment-time machinery, not a request path. Given
// the compiled policy for each resource it retires every previously
// installed policy name and installs the declared one, as a single atomic
// unit per resource, so applying the same set twice is a no-op and
// renaming a policy leaves no trace of the old name.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/schema"
)

// Registry is the live policy surface of a storage engine.
// store/postgres implements it with real row-level security policies;
// store/memory implements it as a fake for tests and standalone use.
type Registry interface {
	// InstalledPolicies returns the names of all policies currently bound
	// to the resource, including superseded ones.
	InstalledPolicies(ctx context.Context, resource string) ([]string, error)

	// Replace retires every named policy and installs the declared one,
	// as a single atomic unit. A request evaluated mid-replace sees the
	// old policy set or the new one, never neither.
	Replace(ctx context.Context, p *policy.Policy, retire []string) error

	// EnableEnforcement turns row security enforcement on for the
	// resource. It never turns enforcement off and is idempotent.
	EnableEnforcement(ctx context.Context, resource string) error
}

// Outcome describes the reconciliation of one resource.
type Outcome struct {
	Resource string   `json:"resource"`
	Policy   string   `json:"policy"`
	Retired  []string `json:"retired,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Result describes one reconciliation run.
type Result struct {
	RunID      id.ReconcileRunID `json:"run_id"`
	Outcomes   []Outcome         `json:"outcomes"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Converged reports whether every resource reconciled cleanly.
func (r *Result) Converged() bool {
	for _, o := range r.Outcomes {
		if o.Error != "" {
			return false
		}
	}
	return true
}

// Failed returns the outcomes that did not converge.
func (r *Result) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Error != "" {
			out = append(out, o)
		}
	}
	return out
}

// Reconciler converges a Registry onto declared binding sets. Apply runs
// are serialized by an internal mutex: retire-then-install is only safe
// under single-writer discipline.
type Reconciler struct {
	registry Registry
	logger   *slog.Logger

	mu sync.Mutex
}

// Option is a functional option for the Reconciler.
type Option func(*Reconciler)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(r *Reconciler) { r.logger = l } }

// New creates a reconciler against the given registry.
func New(registry Registry, opts ...Option) (*Reconciler, error) {
	if registry == nil {
		return nil, errors.New("reconcile: registry is required")
	}
	r := &Reconciler{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Apply compiles the declared set and converges every resource in it.
// Resources reconcile independently and in declaration order, though no
// ordering is guaranteed to callers: a failure is fatal for its resource,
// recorded in the result, and joined into the returned error, while the
// remaining resources still reconcile. A failed or interrupted run is
// safe to retry from scratch.
func (r *Reconciler) Apply(ctx context.Context, set *schema.Set) (*Result, error) {
	if set == nil {
		return nil, errors.New("reconcile: binding set is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	policies, err := policy.CompileSet(set)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	result := &Result{
		RunID:     id.NewReconcileRunID(),
		StartedAt: time.Now(),
	}
	var errs []error
	for _, p := range policies {
		outcome, err := r.applyOne(ctx, p)
		result.Outcomes = append(result.Outcomes, outcome)
		if err != nil {
			errs = append(errs, err)
			r.logger.Error("resource failed to reconcile",
				slog.String("run_id", result.RunID.String()),
				slog.String("resource", outcome.Resource),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.logger.Info("resource reconciled",
			slog.String("run_id", result.RunID.String()),
			slog.String("resource", outcome.Resource),
			slog.String("policy", outcome.Policy),
			slog.Int("retired", len(outcome.Retired)),
		)
	}
	result.FinishedAt = time.Now()
	return result, errors.Join(errs...)
}

// applyOne converges a single resource: enumerate what is installed,
// retire it all, and install the declared policy in one atomic replace.
// Retiring a same-named policy too means a changed predicate body
// converges as well.
func (r *Reconciler) applyOne(ctx context.Context, p *policy.Policy) (Outcome, error) {
	out := Outcome{Resource: p.Resource, Policy: p.Name}

	installed, err := r.registry.InstalledPolicies(ctx, p.Resource)
	if err != nil {
		err = fmt.Errorf("reconcile %s: enumerate policies: %w", p.Resource, err)
		out.Error = err.Error()
		return out, err
	}
	if err := r.registry.Replace(ctx, p, installed); err != nil {
		err = fmt.Errorf("reconcile %s: replace policy: %w", p.Resource, err)
		out.Error = err.Error()
		return out, err
	}
	if err := r.registry.EnableEnforcement(ctx, p.Resource); err != nil {
		err = fmt.Errorf("reconcile %s: enable enforcement: %w", p.Resource, err)
		out.Error = err.Error()
		return out, err
	}

	for _, name := range installed {
		if name != p.Name {
			out.Retired = append(out.Retired, name)
		}
	}
	return out, nil
}
