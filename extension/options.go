package extension

import (
	"log/slog"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/plugin"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/store"
)

// ExtOption configures the Rowguard Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) {
		e.st = s
	}
}

// WithBindings sets the declared ownership bindings. Defaults to the
// built-in workspace bindings when omitted.
func WithBindings(set *schema.Set) ExtOption {
	return func(e *Extension) {
		e.bindings = set
	}
}

// WithConfig sets the extension configuration.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithEngineOptions adds engine-level options.
func WithEngineOptions(opts ...rowguard.Option) ExtOption {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opts...)
	}
}

// WithPlugin registers a lifecycle hook plugin.
func WithPlugin(x plugin.Plugin) ExtOption {
	return func(e *Extension) {
		e.plugins = append(e.plugins, x)
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}

// WithDisableRoutes disables the registration of HTTP routes.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithDisableMigrate disables auto-migration on start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}

// WithReconcileOnStart enables a reconciliation pass during Start.
func WithReconcileOnStart() ExtOption {
	return func(e *Extension) {
		e.config.ReconcileOnStart = true
	}
}
