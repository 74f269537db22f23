// Package extension provides a Forge extension entry point for Rowguard.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/api"
	"github.com/xraph/rowguard/cache"
	"github.com/xraph/rowguard/plugin"
	"github.com/xraph/rowguard/reconcile"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/store"
	"github.com/xraph/rowguard/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "rowguard"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Row-level ownership authorization (ownership bindings, policy reconciliation, session ledger)"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Rowguard as a Forge extension.
type Extension struct {
	config     Config
	eng        *rowguard.Engine
	st         store.Store
	apiHandler *api.API
	logger     *slog.Logger
	bindings   *schema.Set
	engineOpts []rowguard.Option
	plugins    []plugin.Plugin
}

// New creates a Rowguard Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{config: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the extension name.
func (e *Extension) Name() string { return ExtensionName }

// Description returns the extension description.
func (e *Extension) Description() string { return ExtensionDescription }

// Version returns the extension version.
func (e *Extension) Version() string { return ExtensionVersion }

// Dependencies returns the list of extension names this extension depends on.
func (e *Extension) Dependencies() []string { return []string{} }

// Engine returns the underlying Rowguard engine.
func (e *Extension) Engine() *rowguard.Engine { return e.eng }

// Store returns the composite store backing the extension.
func (e *Extension) Store() store.Store { return e.st }

// API returns the API handler.
func (e *Extension) API() *api.API { return e.apiHandler }

// Register implements [forge.Extension]. It initializes the engine,
// registers it in the DI container, and optionally registers HTTP routes.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.init(fapp); err != nil {
		return err
	}

	// Register the engine in the DI container.
	if err := vessel.Provide(fapp.Container(), func() (*rowguard.Engine, error) {
		return e.eng, nil
	}); err != nil {
		return fmt.Errorf("rowguard: register engine in container: %w", err)
	}

	return nil
}

func (e *Extension) init(fapp forge.App) error {
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Try to resolve store from DI container, fall back to option-provided
	// store, then to an in-memory store for development.
	if e.st == nil {
		if s, err := forge.Inject[store.Store](fapp.Container()); err == nil {
			e.st = s
		}
	}
	if e.st == nil {
		logger.Warn("rowguard: no store configured, using in-memory store")
		e.st = memory.New()
	}

	// The declared bindings are the source of truth for evaluation; the
	// store mirrors them so reconciliation and the HTTP API see the same set.
	set := e.bindings
	if set == nil {
		var err error
		set, err = schema.NewSet(schema.DefaultBindings())
		if err != nil {
			return fmt.Errorf("rowguard: default bindings: %w", err)
		}
	}

	// Build engine options.
	opts := make([]rowguard.Option, 0, len(e.engineOpts)+len(e.plugins)+4)
	opts = append(opts,
		rowguard.WithLogger(logger),
		rowguard.WithBindings(set),
		rowguard.WithRowReader(e.st),
	)
	if e.config.CacheTTL > 0 {
		opts = append(opts, rowguard.WithCache(cache.NewMemory(cache.WithTTL(e.config.CacheTTL))))
	}
	if e.config.MaxChainDepth > 0 {
		opts = append(opts, rowguard.WithConfig(rowguard.Config{
			MaxChainDepth: e.config.MaxChainDepth,
			CacheTTL:      e.config.CacheTTL,
		}))
	}

	// Append user-provided options (may override the cache or evaluator).
	opts = append(opts, e.engineOpts...)

	// Register extension hooks.
	for _, x := range e.plugins {
		opts = append(opts, rowguard.WithPlugin(x))
	}

	eng, err := rowguard.NewEngine(opts...)
	if err != nil {
		return fmt.Errorf("rowguard: create engine: %w", err)
	}
	e.eng = eng

	// Create API handler.
	apiHandler, err := api.New(eng, e.st, fapp.Router())
	if err != nil {
		return fmt.Errorf("rowguard: create api: %w", err)
	}
	e.apiHandler = apiHandler

	// Register HTTP routes unless disabled.
	if !e.config.DisableRoutes {
		if err := e.apiHandler.RegisterRoutes(fapp.Router()); err != nil {
			return fmt.Errorf("rowguard: register routes: %w", err)
		}
	}

	return nil
}

// Start migrates the store, seeds the declared bindings, and optionally
// runs a reconciliation pass before the engine begins serving checks.
func (e *Extension) Start(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("rowguard: extension not initialized")
	}

	// Run migrations unless disabled.
	if !e.config.DisableMigrate {
		if err := e.st.Migrate(ctx); err != nil {
			return fmt.Errorf("rowguard: migration failed: %w", err)
		}
	}

	// Mirror the declared bindings into the store so the registry,
	// the reconciler and the HTTP API agree on the declaration.
	if !e.config.DisableSeed {
		if err := e.seedBindings(ctx); err != nil {
			return fmt.Errorf("rowguard: seed bindings: %w", err)
		}
	}

	// Reconciliation is idempotent, so running it at startup converges
	// the installed policies with the declaration at no risk.
	if e.config.ReconcileOnStart {
		rec, err := reconcile.New(e.st)
		if err != nil {
			return fmt.Errorf("rowguard: create reconciler: %w", err)
		}
		result, err := rec.Apply(ctx, e.eng.Bindings())
		if err != nil {
			return fmt.Errorf("rowguard: reconcile on start: %w", err)
		}
		if !result.Converged() {
			return fmt.Errorf("rowguard: reconcile on start did not converge: %v", result.Failed())
		}
	}

	return e.eng.Start(ctx)
}

func (e *Extension) seedBindings(ctx context.Context) error {
	existing, err := e.st.ListBindings(ctx, nil)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, b := range e.eng.Bindings().Bindings() {
		if err := e.st.CreateBinding(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// Stop gracefully shuts down the engine.
func (e *Extension) Stop(ctx context.Context) error {
	if e.eng == nil {
		return nil
	}
	return e.eng.Stop(ctx)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("rowguard: extension not initialized")
	}
	if e.st == nil {
		return errors.New("rowguard: no store configured")
	}
	return e.st.Ping(ctx)
}

// Handler returns the HTTP handler for all API routes.
func (e *Extension) Handler() http.Handler {
	if e.apiHandler == nil {
		return http.NotFoundHandler()
	}
	return e.apiHandler.Handler()
}

// RegisterRoutes registers all Rowguard API routes into a Forge router.
func (e *Extension) RegisterRoutes(router forge.Router) error {
	if e.apiHandler != nil {
		return e.apiHandler.RegisterRoutes(router)
	}
	return nil
}
