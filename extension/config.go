package extension

import "time"

// Config holds the Rowguard extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.rowguard" or "rowguard" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableSeed prevents mirroring the declared bindings into an empty
	// store on start.
	DisableSeed bool `json:"disable_seed" mapstructure:"disable_seed" yaml:"disable_seed"`

	// ReconcileOnStart runs one reconciliation pass during Start, after
	// migration and seeding. Startup fails if the pass does not converge.
	ReconcileOnStart bool `json:"reconcile_on_start" mapstructure:"reconcile_on_start" yaml:"reconcile_on_start"`

	// MaxChainDepth controls how many parent hops ownership resolution
	// may follow for indirect bindings.
	MaxChainDepth int `json:"max_chain_depth" mapstructure:"max_chain_depth" yaml:"max_chain_depth"`

	// CacheTTL enables the in-memory decision cache when positive.
	// Cached decisions can outlive a row mutation by up to this duration.
	CacheTTL time.Duration `json:"cache_ttl" mapstructure:"cache_ttl" yaml:"cache_ttl"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxChainDepth: 1,
	}
}
