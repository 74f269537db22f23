package rowguard

import "time"

// Config holds configuration for the rowguard engine.
type Config struct {
	// MaxChainDepth is the maximum number of parent hops the ownership
	// resolver follows. Defaults to 1; bindings never declare deeper
	// chains, so this is a guard against future misconfiguration.
	MaxChainDepth int `json:"max_chain_depth,omitempty"`

	// CacheTTL is the time-to-live for cached check results.
	// Zero means no caching. Cached decisions can outlive a row mutation
	// by up to the TTL; keep it short or invalidate on write.
	CacheTTL time.Duration `json:"cache_ttl,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxChainDepth: 1,
	}
}
