// Package sqlite provides a SQLite implementation of the Rowguard composite
// store using grove ORM with Go-based migrations.
//
// SQLite has no row level security to install. The policy registry records
// what reconciliation would install, so runs stay observable and idempotent,
// and guarded rows live in a mirrored document table. The engine remains the
// sole enforcement point on this backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/session"
	"github.com/xraph/rowguard/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a SQLite implementation of the composite Rowguard store.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("rowguard/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("rowguard/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// ──────────────────────────────────────────────────
// Binding operations
// ──────────────────────────────────────────────────

func (s *Store) CreateBinding(ctx context.Context, b *schema.Binding) error {
	if _, err := s.GetBindingByResource(ctx, b.Resource); err == nil {
		return fmt.Errorf("binding for %q: %w", b.Resource, schema.ErrDuplicateBinding)
	} else if !errors.Is(err, schema.ErrBindingNotFound) {
		return err
	}
	m, err := bindingToModel(b)
	if err != nil {
		return fmt.Errorf("rowguard: create binding: %w", err)
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("rowguard: create binding: %w", err)
	}
	return nil
}

func (s *Store) GetBinding(ctx context.Context, bindID id.BindingID) (*schema.Binding, error) {
	m := new(bindingModel)
	err := s.sdb.NewSelect(m).Where("id = ?", bindID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("binding %s: %w", bindID, schema.ErrBindingNotFound)
		}
		return nil, fmt.Errorf("rowguard: get binding: %w", err)
	}
	return bindingFromModel(m)
}

func (s *Store) GetBindingByResource(ctx context.Context, resource string) (*schema.Binding, error) {
	m := new(bindingModel)
	err := s.sdb.NewSelect(m).Where("resource = ?", resource).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("binding for %q: %w", resource, schema.ErrBindingNotFound)
		}
		return nil, fmt.Errorf("rowguard: get binding by resource: %w", err)
	}
	return bindingFromModel(m)
}

func (s *Store) UpdateBinding(ctx context.Context, b *schema.Binding) error {
	m, err := bindingToModel(b)
	if err != nil {
		return fmt.Errorf("rowguard: update binding: %w", err)
	}
	if _, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx); err != nil {
		return fmt.Errorf("rowguard: update binding: %w", err)
	}
	return nil
}

func (s *Store) DeleteBinding(ctx context.Context, bindID id.BindingID) error {
	_, err := s.sdb.NewDelete((*bindingModel)(nil)).
		Where("id = ?", bindID.String()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: delete binding: %w", err)
	}
	return nil
}

func (s *Store) ListBindings(ctx context.Context, filter *schema.ListFilter) ([]*schema.Binding, error) {
	var models []bindingModel
	q := s.sdb.NewSelect(&models).OrderExpr("resource ASC")
	if filter != nil {
		if filter.Resource != "" {
			q = q.Where("resource = ?", filter.Resource)
		}
		if filter.Mode != "" {
			q = q.Where("mode = ?", string(filter.Mode))
		}
		if filter.Search != "" {
			needle := "%" + filter.Search + "%"
			q = q.Where("(LOWER(resource) LIKE LOWER(?) OR LOWER(description) LIKE LOWER(?))", needle, needle)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rowguard: list bindings: %w", err)
	}
	result := make([]*schema.Binding, 0, len(models))
	for i := range models {
		b, err := bindingFromModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, nil
}

func (s *Store) CountBindings(ctx context.Context, filter *schema.ListFilter) (int64, error) {
	q := s.sdb.NewSelect((*bindingModel)(nil))
	if filter != nil {
		if filter.Resource != "" {
			q = q.Where("resource = ?", filter.Resource)
		}
		if filter.Mode != "" {
			q = q.Where("mode = ?", string(filter.Mode))
		}
		if filter.Search != "" {
			needle := "%" + filter.Search + "%"
			q = q.Where("(LOWER(resource) LIKE LOWER(?) OR LOWER(description) LIKE LOWER(?))", needle, needle)
		}
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("rowguard: count bindings: %w", err)
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Session operations
// ──────────────────────────────────────────────────

func (s *Store) CreateSession(ctx context.Context, rec *session.Record) error {
	if _, err := s.GetSessionByDevice(ctx, rec.PrincipalID, rec.DeviceID); err == nil {
		return fmt.Errorf("session for %s/%s: %w", rec.PrincipalID, rec.DeviceID, session.ErrDuplicateDevice)
	} else if !errors.Is(err, session.ErrNotFound) {
		return err
	}
	m, err := sessionToModel(rec)
	if err != nil {
		return fmt.Errorf("rowguard: create session: %w", err)
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("rowguard: create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessID id.SessionID) (*session.Record, error) {
	m := new(sessionModel)
	err := s.sdb.NewSelect(m).Where("id = ?", sessID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("session %s: %w", sessID, session.ErrNotFound)
		}
		return nil, fmt.Errorf("rowguard: get session: %w", err)
	}
	return sessionFromModel(m)
}

func (s *Store) GetSessionByDevice(ctx context.Context, principalID, deviceID string) (*session.Record, error) {
	m := new(sessionModel)
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", principalID).
		Where("device_id = ?", deviceID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("session for %s/%s: %w", principalID, deviceID, session.ErrNotFound)
		}
		return nil, fmt.Errorf("rowguard: get session by device: %w", err)
	}
	return sessionFromModel(m)
}

func (s *Store) UpdateSession(ctx context.Context, rec *session.Record) error {
	m, err := sessionToModel(rec)
	if err != nil {
		return fmt.Errorf("rowguard: update session: %w", err)
	}
	if _, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx); err != nil {
		return fmt.Errorf("rowguard: update session: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, sessID id.SessionID) error {
	_, err := s.sdb.NewDelete((*sessionModel)(nil)).
		Where("id = ?", sessID.String()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: delete session: %w", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, filter *session.ListFilter) ([]*session.Record, error) {
	var models []sessionModel
	q := s.sdb.NewSelect(&models).OrderExpr("last_seen_at DESC")
	if filter != nil {
		if filter.PrincipalID != "" {
			q = q.Where("user_id = ?", filter.PrincipalID)
		}
		if filter.DeviceID != "" {
			q = q.Where("device_id = ?", filter.DeviceID)
		}
		if filter.ActiveOnly {
			q = q.Where("revoked_at IS NULL")
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rowguard: list sessions: %w", err)
	}
	result := make([]*session.Record, 0, len(models))
	for i := range models {
		rec, err := sessionFromModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func (s *Store) CountSessions(ctx context.Context, filter *session.ListFilter) (int64, error) {
	q := s.sdb.NewSelect((*sessionModel)(nil))
	if filter != nil {
		if filter.PrincipalID != "" {
			q = q.Where("user_id = ?", filter.PrincipalID)
		}
		if filter.DeviceID != "" {
			q = q.Where("device_id = ?", filter.DeviceID)
		}
		if filter.ActiveOnly {
			q = q.Where("revoked_at IS NULL")
		}
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("rowguard: count sessions: %w", err)
	}
	return count, nil
}

func (s *Store) RevokeSessions(ctx context.Context, principalID, deviceID string, scope session.RevokeScope, at time.Time) (int64, error) {
	if !scope.Valid() {
		return 0, fmt.Errorf("session: unknown revoke scope %q", scope)
	}

	var models []sessionModel
	q := s.sdb.NewSelect(&models).
		Where("user_id = ?", principalID).
		Where("revoked_at IS NULL")
	switch scope {
	case session.RevokeSingle:
		q = q.Where("device_id = ?", deviceID)
	case session.RevokeOthers:
		q = q.Where("device_id <> ?", deviceID)
	case session.RevokeAll:
	}
	if err := q.Scan(ctx); err != nil {
		return 0, fmt.Errorf("rowguard: revoke sessions: %w", err)
	}

	// Stamped one by one; revocation is idempotent, so an interrupted run
	// converges on retry.
	var revoked int64
	for i := range models {
		ts := at
		models[i].RevokedAt = &ts
		models[i].UpdatedAt = at
		if _, err := s.sdb.NewUpdate(&models[i]).WherePK().Exec(ctx); err != nil {
			return revoked, fmt.Errorf("rowguard: revoke session %s: %w", models[i].ID, err)
		}
		revoked++
	}
	return revoked, nil
}

func (s *Store) PurgeRevokedSessions(ctx context.Context, before time.Time) (int64, error) {
	count, err := s.sdb.NewSelect((*sessionModel)(nil)).
		Where("revoked_at IS NOT NULL").
		Where("revoked_at < ?", before).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("rowguard: purge revoked sessions: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	_, err = s.sdb.NewDelete((*sessionModel)(nil)).
		Where("revoked_at IS NOT NULL").
		Where("revoked_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rowguard: purge revoked sessions: %w", err)
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Policy registry
// ──────────────────────────────────────────────────

func (s *Store) InstalledPolicies(ctx context.Context, resource string) ([]string, error) {
	var models []policyModel
	err := s.sdb.NewSelect(&models).
		Where("resource = ?", resource).
		OrderExpr("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("rowguard: list policies for %q: %w", resource, err)
	}
	names := make([]string, len(models))
	for i := range models {
		names[i] = models[i].Name
	}
	return names, nil
}

func (s *Store) Replace(ctx context.Context, p *policy.Policy, retire []string) error {
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return fmt.Errorf("rowguard: begin replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback on error is intentional

	for _, name := range retire {
		if _, err := tx.NewDelete((*policyModel)(nil)).
			Where("resource = ?", p.Resource).
			Where("name = ?", name).
			Exec(ctx); err != nil {
			return fmt.Errorf("rowguard: retire policy %q on %q: %w", name, p.Resource, err)
		}
	}
	// The declared name drops too even when retire omits it, so re-applying
	// an interrupted run cannot collide.
	if _, err := tx.NewDelete((*policyModel)(nil)).
		Where("resource = ?", p.Resource).
		Where("name = ?", p.Name).
		Exec(ctx); err != nil {
		return fmt.Errorf("rowguard: retire policy %q on %q: %w", p.Name, p.Resource, err)
	}
	m := policyToModel(p, time.Now().UTC())
	if _, err := tx.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("rowguard: install policy %q on %q: %w", p.Name, p.Resource, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rowguard: commit replace: %w", err)
	}
	return nil
}

func (s *Store) EnableEnforcement(ctx context.Context, resource string) error {
	m := &enforcementModel{Resource: resource, EnabledAt: time.Now().UTC()}
	_, err := s.sdb.NewInsert(m).
		OnConflict("(resource) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: enable enforcement on %q: %w", resource, err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Guarded rows
// ──────────────────────────────────────────────────

func (s *Store) getRowModel(ctx context.Context, resource, key string) (*rowModel, error) {
	m := new(rowModel)
	err := s.sdb.NewSelect(m).
		Where("resource = ?", resource).
		Where("row_key = ?", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rowguard: get row %s/%s: %w", resource, key, err)
	}
	return m, nil
}

func (s *Store) GetRow(ctx context.Context, resource, key string) (rowguard.Row, error) {
	m, err := s.getRowModel(ctx, resource, key)
	if err != nil || m == nil {
		return nil, err
	}
	var row rowguard.Row
	if err := json.Unmarshal([]byte(m.Data), &row); err != nil {
		return nil, fmt.Errorf("rowguard: decode row %s/%s: %w", resource, key, err)
	}
	return row, nil
}

func (s *Store) InsertRow(ctx context.Context, resource string, row rowguard.Row) error {
	key, err := s.rowKey(ctx, resource, row)
	if err != nil {
		return err
	}
	existing, err := s.getRowModel(ctx, resource, key)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("row %s/%s already exists", resource, key)
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("rowguard: encode row %s/%s: %w", resource, key, err)
	}
	now := time.Now().UTC()
	m := &rowModel{
		Resource:  resource,
		RowKey:    key,
		Data:      string(data),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("rowguard: insert row %s/%s: %w", resource, key, err)
	}
	return nil
}

func (s *Store) UpdateRow(ctx context.Context, resource, key string, row rowguard.Row) error {
	m, err := s.getRowModel(ctx, resource, key)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("row %s/%s: %w", resource, key, rowguard.ErrRowNotFound)
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("rowguard: encode row %s/%s: %w", resource, key, err)
	}
	m.Data = string(data)
	m.UpdatedAt = time.Now().UTC()
	if _, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx); err != nil {
		return fmt.Errorf("rowguard: update row %s/%s: %w", resource, key, err)
	}
	return nil
}

func (s *Store) DeleteRow(ctx context.Context, resource, key string) error {
	_, err := s.sdb.NewDelete((*rowModel)(nil)).
		Where("resource = ?", resource).
		Where("row_key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: delete row %s/%s: %w", resource, key, err)
	}
	return nil
}

// rowKey extracts the row's key column value. The key column comes from the
// stored binding for the resource when one exists.
func (s *Store) rowKey(ctx context.Context, resource string, row rowguard.Row) (string, error) {
	keyCol := schema.DefaultKeyColumn
	b, err := s.GetBindingByResource(ctx, resource)
	switch {
	case err == nil:
		keyCol = b.Key()
	case !errors.Is(err, schema.ErrBindingNotFound):
		return "", err
	}
	v, ok := row.Column(keyCol)
	if !ok || v == "" {
		return "", fmt.Errorf("row for %q has no %s value", resource, keyCol)
	}
	return v, nil
}
