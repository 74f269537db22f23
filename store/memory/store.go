// Package memory provides an in-memory implementation of the Rowguard
// composite store. It is intended for testing and development: bindings,
// session records and guarded rows live in maps, and the policy registry
// records installed policies instead of executing DDL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/reconcile"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/session"
)

// Compile-time interface checks.
var (
	_ schema.Store       = (*Store)(nil)
	_ session.Store      = (*Store)(nil)
	_ rowguard.RowStore  = (*Store)(nil)
	_ reconcile.Registry = (*Store)(nil)
)

// Store is a thread-safe in-memory store for all Rowguard entities. The
// rows map backs the guarded row surface so engine and guard behavior can
// be exercised without a database.
type Store struct {
	mu sync.RWMutex

	bindings map[string]*schema.Binding           // binding ID -> binding
	sessions map[string]*session.Record           // session ID -> record
	rows     map[string]map[string]rowguard.Row   // resource -> key -> row
	policies map[string]map[string]*policy.Policy // resource -> policy name
	enforced map[string]bool                      // resource -> enforcement on
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		bindings: make(map[string]*schema.Binding),
		sessions: make(map[string]*session.Record),
		rows:     make(map[string]map[string]rowguard.Row),
		policies: make(map[string]map[string]*policy.Policy),
		enforced: make(map[string]bool),
	}
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Binding Store
// ──────────────────────────────────────────────────

func (s *Store) CreateBinding(_ context.Context, b *schema.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.bindings {
		if existing.Resource == b.Resource {
			return fmt.Errorf("binding for %q: %w", b.Resource, schema.ErrDuplicateBinding)
		}
	}
	s.bindings[b.ID.String()] = copyBinding(b)
	return nil
}

func (s *Store) GetBinding(_ context.Context, bindID id.BindingID) (*schema.Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[bindID.String()]
	if !ok {
		return nil, fmt.Errorf("binding %s: %w", bindID, schema.ErrBindingNotFound)
	}
	return copyBinding(b), nil
}

func (s *Store) GetBindingByResource(_ context.Context, resource string) (*schema.Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bindings {
		if b.Resource == resource {
			return copyBinding(b), nil
		}
	}
	return nil, fmt.Errorf("binding for %q: %w", resource, schema.ErrBindingNotFound)
}

func (s *Store) UpdateBinding(_ context.Context, b *schema.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[b.ID.String()]; !ok {
		return fmt.Errorf("binding %s: %w", b.ID, schema.ErrBindingNotFound)
	}
	s.bindings[b.ID.String()] = copyBinding(b)
	return nil
}

func (s *Store) DeleteBinding(_ context.Context, bindID id.BindingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, bindID.String())
	return nil
}

func (s *Store) ListBindings(_ context.Context, filter *schema.ListFilter) ([]*schema.Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*schema.Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		if filter != nil {
			if filter.Resource != "" && b.Resource != filter.Resource {
				continue
			}
			if filter.Mode != "" && b.Mode != filter.Mode {
				continue
			}
			if filter.Search != "" {
				needle := strings.ToLower(filter.Search)
				if !strings.Contains(strings.ToLower(b.Resource), needle) &&
					!strings.Contains(strings.ToLower(b.Description), needle) {
					continue
				}
			}
		}
		result = append(result, copyBinding(b))
	}
	// Stable order so pagination windows do not shift between calls.
	sort.Slice(result, func(i, j int) bool { return result[i].Resource < result[j].Resource })
	return applyPagination(result, paginationOpts(filter)), nil
}

func (s *Store) CountBindings(ctx context.Context, filter *schema.ListFilter) (int64, error) {
	var f schema.ListFilter
	if filter != nil {
		f = *filter
	}
	f.Limit, f.Offset = 0, 0
	list, err := s.ListBindings(ctx, &f)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

// ──────────────────────────────────────────────────
// Session Store
// ──────────────────────────────────────────────────

func (s *Store) CreateSession(_ context.Context, rec *session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.PrincipalID == rec.PrincipalID && existing.DeviceID == rec.DeviceID {
			return fmt.Errorf("session for %s/%s: %w", rec.PrincipalID, rec.DeviceID, session.ErrDuplicateDevice)
		}
	}
	s.sessions[rec.ID.String()] = copyRecord(rec)
	return nil
}

func (s *Store) GetSession(_ context.Context, sessID id.SessionID) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessID.String()]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessID, session.ErrNotFound)
	}
	return copyRecord(rec), nil
}

func (s *Store) GetSessionByDevice(_ context.Context, principalID, deviceID string) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.sessions {
		if rec.PrincipalID == principalID && rec.DeviceID == deviceID {
			return copyRecord(rec), nil
		}
	}
	return nil, fmt.Errorf("session for %s/%s: %w", principalID, deviceID, session.ErrNotFound)
}

func (s *Store) UpdateSession(_ context.Context, rec *session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[rec.ID.String()]; !ok {
		return fmt.Errorf("session %s: %w", rec.ID, session.ErrNotFound)
	}
	s.sessions[rec.ID.String()] = copyRecord(rec)
	return nil
}

func (s *Store) DeleteSession(_ context.Context, sessID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessID.String())
	return nil
}

func (s *Store) ListSessions(_ context.Context, filter *session.ListFilter) ([]*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*session.Record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		if filter != nil {
			if filter.PrincipalID != "" && rec.PrincipalID != filter.PrincipalID {
				continue
			}
			if filter.DeviceID != "" && rec.DeviceID != filter.DeviceID {
				continue
			}
			if filter.ActiveOnly && rec.Revoked() {
				continue
			}
		}
		result = append(result, copyRecord(rec))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LastSeenAt.After(result[j].LastSeenAt) })
	return applyPagination(result, paginationOptsSess(filter)), nil
}

func (s *Store) CountSessions(ctx context.Context, filter *session.ListFilter) (int64, error) {
	var f session.ListFilter
	if filter != nil {
		f = *filter
	}
	f.Limit, f.Offset = 0, 0
	list, err := s.ListSessions(ctx, &f)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (s *Store) RevokeSessions(_ context.Context, principalID, deviceID string, scope session.RevokeScope, at time.Time) (int64, error) {
	if !scope.Valid() {
		return 0, fmt.Errorf("session: unknown revoke scope %q", scope)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var revoked int64
	for _, rec := range s.sessions {
		if rec.PrincipalID != principalID || rec.Revoked() {
			continue
		}
		switch scope {
		case session.RevokeSingle:
			if rec.DeviceID != deviceID {
				continue
			}
		case session.RevokeOthers:
			if rec.DeviceID == deviceID {
				continue
			}
		case session.RevokeAll:
		}
		ts := at
		rec.RevokedAt = &ts
		rec.UpdatedAt = at
		revoked++
	}
	return revoked, nil
}

func (s *Store) PurgeRevokedSessions(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for k, rec := range s.sessions {
		if rec.RevokedAt != nil && rec.RevokedAt.Before(before) {
			delete(s.sessions, k)
			purged++
		}
	}
	return purged, nil
}

// ──────────────────────────────────────────────────
// Row Store
// ──────────────────────────────────────────────────

func (s *Store) GetRow(_ context.Context, resource, key string) (rowguard.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[resource][key]
	if !ok {
		return nil, nil
	}
	return row.Clone(), nil
}

func (s *Store) InsertRow(_ context.Context, resource string, row rowguard.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, err := s.rowKey(resource, row)
	if err != nil {
		return err
	}
	if _, exists := s.rows[resource][key]; exists {
		return fmt.Errorf("row %s/%s already exists", resource, key)
	}
	if s.rows[resource] == nil {
		s.rows[resource] = make(map[string]rowguard.Row)
	}
	s.rows[resource][key] = row.Clone()
	return nil
}

func (s *Store) UpdateRow(_ context.Context, resource, key string, row rowguard.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[resource][key]; !ok {
		return fmt.Errorf("row %s/%s: %w", resource, key, rowguard.ErrRowNotFound)
	}
	s.rows[resource][key] = row.Clone()
	return nil
}

func (s *Store) DeleteRow(_ context.Context, resource, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rows, ok := s.rows[resource]; ok {
		delete(rows, key)
	}
	return nil
}

// ListRows returns all rows of a resource in key order. It backs list
// endpoints in development; production stores push the predicate into SQL.
func (s *Store) ListRows(_ context.Context, resource string) ([]rowguard.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.rows[resource]))
	for k := range s.rows[resource] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]rowguard.Row, 0, len(keys))
	for _, k := range keys {
		result = append(result, s.rows[resource][k].Clone())
	}
	return result, nil
}

// rowKey extracts the row's key column value. The key column comes from the
// stored binding for the resource when one exists. Caller holds s.mu.
func (s *Store) rowKey(resource string, row rowguard.Row) (string, error) {
	keyCol := schema.DefaultKeyColumn
	for _, b := range s.bindings {
		if b.Resource == resource {
			keyCol = b.Key()
			break
		}
	}
	v, ok := row.Column(keyCol)
	if !ok || v == "" {
		return "", fmt.Errorf("row for %q has no %s value", resource, keyCol)
	}
	return v, nil
}

// ──────────────────────────────────────────────────
// Policy Registry
// ──────────────────────────────────────────────────

func (s *Store) InstalledPolicies(_ context.Context, resource string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.policies[resource]))
	for name := range s.policies[resource] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Replace(_ context.Context, p *policy.Policy, retire []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range retire {
		delete(s.policies[p.Resource], name)
	}
	if s.policies[p.Resource] == nil {
		s.policies[p.Resource] = make(map[string]*policy.Policy)
	}
	s.policies[p.Resource][p.Name] = copyPolicy(p)
	return nil
}

func (s *Store) EnableEnforcement(_ context.Context, resource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enforced[resource] = true
	return nil
}

// Enforced reports whether enforcement has been enabled for the resource.
func (s *Store) Enforced(resource string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enforced[resource]
}

// ──────────────────────────────────────────────────
// Copy helpers (the store never shares its internal pointers)
// ──────────────────────────────────────────────────

func copyBinding(b *schema.Binding) *schema.Binding {
	c := *b
	if b.Metadata != nil {
		c.Metadata = make(map[string]any, len(b.Metadata))
		for k, v := range b.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func copyRecord(r *session.Record) *session.Record {
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

func copyPolicy(p *policy.Policy) *policy.Policy {
	c := *p
	return &c
}

// Pagination helpers.
type pagOpts struct{ limit, offset int }

func paginationOpts(f *schema.ListFilter) pagOpts {
	if f == nil {
		return pagOpts{}
	}
	return pagOpts{limit: f.Limit, offset: f.Offset}
}

func paginationOptsSess(f *session.ListFilter) pagOpts {
	if f == nil {
		return pagOpts{}
	}
	return pagOpts{limit: f.Limit, offset: f.Offset}
}

func applyPagination[T any](items []*T, p pagOpts) []*T {
	if p.offset > 0 && p.offset < len(items) {
		items = items[p.offset:]
	} else if p.offset >= len(items) && p.offset > 0 {
		return nil
	}
	if p.limit > 0 && p.limit < len(items) {
		items = items[:p.limit]
	}
	return items
}
