package rowguard

import "context"

// Cache provides caching for authorization check results. A cached
// decision can outlive the row or parent it was computed from by up to
// the implementation's TTL; guards invalidate on write to narrow that
// window.
type Cache interface {
	// Get returns a cached check result, if available.
	Get(ctx context.Context, req *CheckRequest) (*CheckResult, bool)

	// Set stores a check result in the cache.
	Set(ctx context.Context, req *CheckRequest, result *CheckResult)

	// InvalidateResource removes all cached results for a resource.
	InvalidateResource(ctx context.Context, resource string)

	// InvalidatePrincipal removes all cached results for a principal.
	InvalidatePrincipal(ctx context.Context, principalID string)
}
