// Package plugin defines the plugin system for rowguard.
// Plugins are notified of lifecycle events (decision made, binding changed,
// policies reconciled, session recorded, etc.) and can react — logging,
// metrics, tracing, etc.
//
// Each lifecycle hook is a separate interface so plugins opt in only
// to the events they care about.
package plugin

import (
	"context"

	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/reconcile"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/session"
)

// Plugin is the base interface all plugins must implement.
type Plugin interface {
	// Name returns a unique human-readable name for the plugin.
	Name() string
}

// ──────────────────────────────────────────────────
// Decision lifecycle hooks
// ──────────────────────────────────────────────────

// BeforeDecision is called before a row check is evaluated.
// The req parameter is *rowguard.CheckRequest (passed as any to avoid import cycle).
type BeforeDecision interface {
	OnBeforeDecision(ctx context.Context, req any) error
}

// AfterDecision is called after a row check completes.
// The req parameter is *rowguard.CheckRequest; result is *rowguard.CheckResult.
type AfterDecision interface {
	OnAfterDecision(ctx context.Context, req, result any) error
}

// ──────────────────────────────────────────────────
// Binding lifecycle hooks
// ──────────────────────────────────────────────────

// BindingCreated is called after an ownership binding is created.
type BindingCreated interface {
	OnBindingCreated(ctx context.Context, b *schema.Binding) error
}

// BindingUpdated is called after an ownership binding is updated.
type BindingUpdated interface {
	OnBindingUpdated(ctx context.Context, b *schema.Binding) error
}

// BindingDeleted is called after an ownership binding is deleted.
type BindingDeleted interface {
	OnBindingDeleted(ctx context.Context, bindingID id.BindingID) error
}

// ──────────────────────────────────────────────────
// Reconciliation lifecycle hooks
// ──────────────────────────────────────────────────

// Reconciled is called after a reconciliation run finishes, whether or
// not every resource converged.
type Reconciled interface {
	OnReconciled(ctx context.Context, result *reconcile.Result) error
}

// ──────────────────────────────────────────────────
// Session lifecycle hooks
// ──────────────────────────────────────────────────

// SessionRecorded is called after a session record is created or touched.
type SessionRecorded interface {
	OnSessionRecorded(ctx context.Context, s *session.Record) error
}

// SessionRevoked is called after one or more sessions are revoked.
type SessionRevoked interface {
	OnSessionRevoked(ctx context.Context, principalID string, scope session.RevokeScope, revoked int64) error
}

// ──────────────────────────────────────────────────
// Shutdown hook
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
