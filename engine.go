package rowguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/rowguard/plugin"
	"github.com/xraph/rowguard/schema"
)

// Engine is the central authorization engine. It evaluates row operations
// against ownership bindings, caches decisions, and fires extension hooks.
type Engine struct {
	bindings  *schema.Set
	rows      RowReader
	evaluator Evaluator
	cache     Cache
	plugins   *plugin.Registry
	logger    *slog.Logger
	config    Config
}

// NewEngine creates a new rowguard engine with the given options.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		evaluator: DefaultEvaluator(),
		logger:    slog.Default(),
		config:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bindings == nil || e.bindings.Len() == 0 {
		return nil, errors.New("rowguard: bindings are required")
	}
	if e.rows == nil && e.bindings.HasIndirect() {
		return nil, errors.New("rowguard: indirect bindings require a row reader")
	}
	// Apply the configured chain depth unless a custom evaluator was set.
	if _, ok := e.evaluator.(*ownerEvaluator); ok && e.config.MaxChainDepth > 0 {
		e.evaluator = OwnershipEvaluator(e.config.MaxChainDepth)
	}
	return e, nil
}

// Bindings returns the ownership bindings the engine evaluates against.
func (e *Engine) Bindings() *schema.Set { return e.bindings }

// Plugins returns the plugin registry (may be nil).
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Start performs any startup initialization.
func (e *Engine) Start(_ context.Context) error { return nil }

// Stop performs graceful shutdown, notifying plugins that implement the
// Shutdown hook.
func (e *Engine) Stop(ctx context.Context) error {
	if e.plugins != nil {
		e.plugins.EmitShutdown(ctx)
	}
	return nil
}

// Check evaluates one row operation. This is the hot path. Denials come
// back as results, not errors; an error means the check itself could not
// run (unknown resource, failed parent read).
func (e *Engine) Check(ctx context.Context, req *CheckRequest) (*CheckResult, error) {
	start := time.Now()

	// 1. Cache hit?
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, req); ok {
			cached.EvalTimeNs = time.Since(start).Nanoseconds()
			return cached, nil
		}
	}

	// 2. Extension hook: before decision.
	if e.plugins != nil {
		e.plugins.EmitBeforeDecision(ctx, req)
	}

	// 3. Resolve ownership and decide.
	result, err := e.evaluator.Evaluate(ctx, e.bindings, e.rows, req)
	if err != nil {
		return nil, fmt.Errorf("rowguard evaluate: %w", err)
	}
	result.EvalTimeNs = time.Since(start).Nanoseconds()

	if !result.Allowed {
		e.logger.Debug("row check denied",
			slog.String("resource", req.Resource),
			slog.String("operation", string(req.Operation)),
			slog.String("decision", string(result.Decision)),
		)
	}

	// 4. Cache the result.
	if e.cache != nil {
		e.cache.Set(ctx, req, result)
	}

	// 5. Extension hook: after decision.
	if e.plugins != nil {
		e.plugins.EmitAfterDecision(ctx, req, result)
	}

	return result, nil
}

// Visible reports whether the principal may read the row. It is the
// visibility predicate applied to every row before a read returns it, and
// to the pre-image of updates and deletes.
func (e *Engine) Visible(ctx context.Context, p Principal, resource string, row Row) (bool, error) {
	result, err := e.Check(ctx, &CheckRequest{Principal: p, Resource: resource, Operation: OpSelect, Row: row})
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// Writable reports whether the principal may commit the row as the
// post-image of an insert or update. Kept separate from Visible so the
// two predicates can diverge per binding without changing callers.
func (e *Engine) Writable(ctx context.Context, p Principal, resource string, row Row) (bool, error) {
	result, err := e.Check(ctx, &CheckRequest{Principal: p, Resource: resource, Operation: OpInsert, Row: row})
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// Enforce returns ErrRowDenied if the check is denied.
func (e *Engine) Enforce(ctx context.Context, req *CheckRequest) error {
	result, err := e.Check(ctx, req)
	if err != nil {
		return fmt.Errorf("rowguard check: %w", err)
	}
	if !result.Allowed {
		return fmt.Errorf("%w: %s", ErrRowDenied, result.Decision)
	}
	return nil
}

// InvalidateResource drops cached decisions for one resource. Callers
// that mutate rows outside a Guard should invoke it after committing.
func (e *Engine) InvalidateResource(ctx context.Context, resource string) {
	if e.cache != nil {
		e.cache.InvalidateResource(ctx, resource)
	}
}

// InvalidatePrincipal drops cached decisions for one principal.
func (e *Engine) InvalidatePrincipal(ctx context.Context, principalID string) {
	if e.cache != nil {
		e.cache.InvalidatePrincipal(ctx, principalID)
	}
}
