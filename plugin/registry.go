package plugin

import (
	"context"
	"log/slog"

	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/reconcile"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/session"
)

// Named entry types pair a hook with the plugin name for logging.

type beforeDecisionEntry struct {
	name string
	hook BeforeDecision
}
type afterDecisionEntry struct {
	name string
	hook AfterDecision
}
type bindingCreatedEntry struct {
	name string
	hook BindingCreated
}
type bindingUpdatedEntry struct {
	name string
	hook BindingUpdated
}
type bindingDeletedEntry struct {
	name string
	hook BindingDeleted
}
type reconciledEntry struct {
	name string
	hook Reconciled
}
type sessionRecordedEntry struct {
	name string
	hook SessionRecorded
}
type sessionRevokedEntry struct {
	name string
	hook SessionRevoked
}
type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered plugins and dispatches lifecycle events.
// It type-caches plugins at registration time so emit calls iterate
// only over plugins implementing the relevant hook.
type Registry struct {
	plugins []Plugin
	logger  *slog.Logger

	beforeDecision  []beforeDecisionEntry
	afterDecision   []afterDecisionEntry
	bindingCreated  []bindingCreatedEntry
	bindingUpdated  []bindingUpdatedEntry
	bindingDeleted  []bindingDeletedEntry
	reconciled      []reconciledEntry
	sessionRecorded []sessionRecordedEntry
	sessionRevoked  []sessionRevokedEntry
	shutdown        []shutdownEntry
}

// NewRegistry creates a plugin registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a plugin and type-asserts it into all applicable
// hook caches. Plugins are notified in registration order.
func (r *Registry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)
	name := p.Name()

	if h, ok := p.(BeforeDecision); ok {
		r.beforeDecision = append(r.beforeDecision, beforeDecisionEntry{name, h})
	}
	if h, ok := p.(AfterDecision); ok {
		r.afterDecision = append(r.afterDecision, afterDecisionEntry{name, h})
	}
	if h, ok := p.(BindingCreated); ok {
		r.bindingCreated = append(r.bindingCreated, bindingCreatedEntry{name, h})
	}
	if h, ok := p.(BindingUpdated); ok {
		r.bindingUpdated = append(r.bindingUpdated, bindingUpdatedEntry{name, h})
	}
	if h, ok := p.(BindingDeleted); ok {
		r.bindingDeleted = append(r.bindingDeleted, bindingDeletedEntry{name, h})
	}
	if h, ok := p.(Reconciled); ok {
		r.reconciled = append(r.reconciled, reconciledEntry{name, h})
	}
	if h, ok := p.(SessionRecorded); ok {
		r.sessionRecorded = append(r.sessionRecorded, sessionRecordedEntry{name, h})
	}
	if h, ok := p.(SessionRevoked); ok {
		r.sessionRevoked = append(r.sessionRevoked, sessionRevokedEntry{name, h})
	}
	if h, ok := p.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Plugins returns all registered plugins.
func (r *Registry) Plugins() []Plugin { return r.plugins }

// ──────────────────────────────────────────────────
// Decision event emitters
// ──────────────────────────────────────────────────

// EmitBeforeDecision notifies all plugins that implement BeforeDecision.
func (r *Registry) EmitBeforeDecision(ctx context.Context, req any) {
	for _, e := range r.beforeDecision {
		if err := e.hook.OnBeforeDecision(ctx, req); err != nil {
			r.logHookError("OnBeforeDecision", e.name, err)
		}
	}
}

// EmitAfterDecision notifies all plugins that implement AfterDecision.
func (r *Registry) EmitAfterDecision(ctx context.Context, req, result any) {
	for _, e := range r.afterDecision {
		if err := e.hook.OnAfterDecision(ctx, req, result); err != nil {
			r.logHookError("OnAfterDecision", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Binding event emitters
// ──────────────────────────────────────────────────

// EmitBindingCreated notifies all plugins that implement BindingCreated.
func (r *Registry) EmitBindingCreated(ctx context.Context, b *schema.Binding) {
	for _, e := range r.bindingCreated {
		if err := e.hook.OnBindingCreated(ctx, b); err != nil {
			r.logHookError("OnBindingCreated", e.name, err)
		}
	}
}

// EmitBindingUpdated notifies all plugins that implement BindingUpdated.
func (r *Registry) EmitBindingUpdated(ctx context.Context, b *schema.Binding) {
	for _, e := range r.bindingUpdated {
		if err := e.hook.OnBindingUpdated(ctx, b); err != nil {
			r.logHookError("OnBindingUpdated", e.name, err)
		}
	}
}

// EmitBindingDeleted notifies all plugins that implement BindingDeleted.
func (r *Registry) EmitBindingDeleted(ctx context.Context, bindingID id.BindingID) {
	for _, e := range r.bindingDeleted {
		if err := e.hook.OnBindingDeleted(ctx, bindingID); err != nil {
			r.logHookError("OnBindingDeleted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Reconciliation event emitters
// ──────────────────────────────────────────────────

// EmitReconciled notifies all plugins that implement Reconciled.
func (r *Registry) EmitReconciled(ctx context.Context, result *reconcile.Result) {
	for _, e := range r.reconciled {
		if err := e.hook.OnReconciled(ctx, result); err != nil {
			r.logHookError("OnReconciled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Session event emitters
// ──────────────────────────────────────────────────

// EmitSessionRecorded notifies all plugins that implement SessionRecorded.
func (r *Registry) EmitSessionRecorded(ctx context.Context, s *session.Record) {
	for _, e := range r.sessionRecorded {
		if err := e.hook.OnSessionRecorded(ctx, s); err != nil {
			r.logHookError("OnSessionRecorded", e.name, err)
		}
	}
}

// EmitSessionRevoked notifies all plugins that implement SessionRevoked.
func (r *Registry) EmitSessionRevoked(ctx context.Context, principalID string, scope session.RevokeScope, revoked int64) {
	for _, e := range r.sessionRevoked {
		if err := e.hook.OnSessionRevoked(ctx, principalID, scope, revoked); err != nil {
			r.logHookError("OnSessionRevoked", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Shutdown emitter
// ──────────────────────────────────────────────────

// EmitShutdown notifies all plugins that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, pluginName string, err error) {
	r.logger.Warn("plugin hook error",
		slog.String("hook", hook),
		slog.String("plugin", pluginName),
		slog.String("error", err.Error()),
	)
}
