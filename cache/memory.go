// Package cache provides caching implementations for Rowguard check results.
//
// A decision is a pure function of the principal, the operation and the row
// content it references, so entries are keyed by a digest of the row rather
// than its key alone. The TTL bounds how long a decision may outlive a
// parent-row change that no invalidation call reported.
package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/xraph/rowguard"
)

// Compile-time interface check.
var _ rowguard.Cache = (*Memory)(nil)

// Memory is an in-memory cache with TTL-based expiration.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	maxSize int
}

type entry struct {
	result      *rowguard.CheckResult
	resource    string
	principalID string
	expiresAt   time.Time
}

// MemoryOption configures the memory cache.
type MemoryOption func(*Memory)

// WithTTL sets the cache entry time-to-live.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = ttl }
}

// WithMaxSize sets the maximum number of cache entries.
func WithMaxSize(n int) MemoryOption {
	return func(m *Memory) { m.maxSize = n }
}

// NewMemory creates a new in-memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*entry),
		ttl:     5 * time.Minute,
		maxSize: 10000,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a cached check result.
func (m *Memory) Get(_ context.Context, req *rowguard.CheckRequest) (*rowguard.CheckResult, bool) {
	key := cacheKey(req)
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false
	}
	return e.result, true
}

// Set stores a check result in the cache.
func (m *Memory) Set(_ context.Context, req *rowguard.CheckRequest, result *rowguard.CheckResult) {
	key := cacheKey(req)
	m.mu.Lock()
	defer m.mu.Unlock()

	// Evict if at capacity.
	if len(m.entries) >= m.maxSize {
		m.evictExpired()
		if len(m.entries) >= m.maxSize {
			m.evictOne()
		}
	}

	m.entries[key] = &entry{
		result:      result,
		resource:    req.Resource,
		principalID: req.Principal.ID,
		expiresAt:   time.Now().Add(m.ttl),
	}
}

// InvalidateResource removes all cached results for a resource type.
// Indirect bindings resolve through parent rows, so a write to a parent
// resource must invalidate the children that chain through it; callers
// invalidate the written resource and rely on the TTL for the rest.
func (m *Memory) InvalidateResource(_ context.Context, resource string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.resource == resource {
			delete(m.entries, k)
		}
	}
}

// InvalidatePrincipal removes all cached results for a principal.
func (m *Memory) InvalidatePrincipal(_ context.Context, principalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.principalID == principalID {
			delete(m.entries, k)
		}
	}
}

// cacheKey digests the request including row content. Two checks share an
// entry only when every column the decision could read is identical.
func cacheKey(req *rowguard.CheckRequest) string {
	return fmt.Sprintf("%s:%s:%s:%s:%x:%x",
		req.Resource,
		req.Principal.ID,
		req.Principal.Role,
		req.Operation,
		rowDigest(req.Row),
		rowDigest(req.PreImage),
	)
}

func rowDigest(row rowguard.Row) uint64 {
	if row == nil {
		return 0
	}
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := fnv.New64a()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, row[k])
	}
	return h.Sum64()
}

// evictExpired removes all expired entries. Must hold write lock.
func (m *Memory) evictExpired() {
	now := time.Now()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

// evictOne removes one arbitrary entry. Must hold write lock.
func (m *Memory) evictOne() {
	for k := range m.entries {
		delete(m.entries, k)
		return
	}
}
