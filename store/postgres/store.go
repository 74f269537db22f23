// Package postgres provides a PostgreSQL implementation of the Rowguard
// composite store. Binding and session models go through the grove ORM
// with Go-based migrations; policy DDL, catalog introspection and guarded
// row access go through a dedicated pgx pool, because they run dynamic SQL
// against application tables that no grove model describes.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/session"
	"github.com/xraph/rowguard/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint errors.
const uniqueViolation = "23505"

// Store is a PostgreSQL implementation of the composite Rowguard store.
type Store struct {
	db   *grove.DB
	pgdb *pgdriver.PgDB
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL store. Both handles must point at the same
// database: grove serves the binding and session models, the pool serves
// policy DDL and guarded rows.
//
// Once enforcement is forced on user_devices, the grove connection must
// carry the service role setting or the ledger reads back empty. Put it in
// the DSN, for example:
//
//	options=-c rowguard.role=service
//
// The pool needs no such setting; every pool transaction asserts its role
// explicitly.
func New(db *grove.DB, pool *pgxpool.Pool) *Store {
	return &Store{
		db:   db,
		pgdb: pgdriver.Unwrap(db),
		pool: pool,
	}
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pgdb)
	if err != nil {
		return fmt.Errorf("rowguard: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("rowguard: migration failed: %w", err)
	}
	return nil
}

// Ping verifies both database handles.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return err
	}
	return s.pool.Ping(ctx)
}

// Close closes both database handles.
func (s *Store) Close() error {
	s.pool.Close()
	return s.db.Close()
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation anywhere in its chain.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ──────────────────────────────────────────────────
// Binding operations
// ──────────────────────────────────────────────────

func (s *Store) CreateBinding(ctx context.Context, b *schema.Binding) error {
	m := bindingToModel(b)
	_, err := s.pgdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("binding for %q: %w", b.Resource, schema.ErrDuplicateBinding)
		}
		return fmt.Errorf("rowguard: create binding: %w", err)
	}
	return nil
}

func (s *Store) GetBinding(ctx context.Context, bindID id.BindingID) (*schema.Binding, error) {
	m := new(bindingModel)
	err := s.pgdb.NewSelect(m).Where("id = ?", bindID.String()).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("binding %s: %w", bindID, schema.ErrBindingNotFound)
		}
		return nil, fmt.Errorf("rowguard: get binding: %w", err)
	}
	return bindingFromModel(m), nil
}

func (s *Store) GetBindingByResource(ctx context.Context, resource string) (*schema.Binding, error) {
	m := new(bindingModel)
	err := s.pgdb.NewSelect(m).Where("resource = ?", resource).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("binding for %q: %w", resource, schema.ErrBindingNotFound)
		}
		return nil, fmt.Errorf("rowguard: get binding by resource: %w", err)
	}
	return bindingFromModel(m), nil
}

func (s *Store) UpdateBinding(ctx context.Context, b *schema.Binding) error {
	m := bindingToModel(b)
	_, err := s.pgdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: update binding: %w", err)
	}
	return nil
}

func (s *Store) DeleteBinding(ctx context.Context, bindID id.BindingID) error {
	_, err := s.pgdb.NewDelete((*bindingModel)(nil)).
		Where("id = ?", bindID.String()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: delete binding: %w", err)
	}
	return nil
}

func (s *Store) ListBindings(ctx context.Context, filter *schema.ListFilter) ([]*schema.Binding, error) {
	var models []bindingModel
	q := s.pgdb.NewSelect(&models).OrderExpr("resource ASC")
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
	result := make([]*schema.Binding, len(models))
	for i := range models {
		result[i] = bindingFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountBindings(ctx context.Context, filter *schema.ListFilter) (int64, error) {
	q := s.pgdb.NewSelect((*bindingModel)(nil))
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
	m := sessionToModel(rec)
	_, err := s.pgdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session for %s/%s: %w", rec.PrincipalID, rec.DeviceID, session.ErrDuplicateDevice)
		}
		return fmt.Errorf("rowguard: create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessID id.SessionID) (*session.Record, error) {
	m := new(sessionModel)
	err := s.pgdb.NewSelect(m).Where("id = ?", sessID.String()).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessID, session.ErrNotFound)
		}
		return nil, fmt.Errorf("rowguard: get session: %w", err)
	}
	return sessionFromModel(m), nil
}

func (s *Store) GetSessionByDevice(ctx context.Context, principalID, deviceID string) (*session.Record, error) {
	m := new(sessionModel)
	err := s.pgdb.NewSelect(m).
		Where("user_id = ?", principalID).
		Where("device_id = ?", deviceID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session for %s/%s: %w", principalID, deviceID, session.ErrNotFound)
		}
		return nil, fmt.Errorf("rowguard: get session by device: %w", err)
	}
	return sessionFromModel(m), nil
}

func (s *Store) UpdateSession(ctx context.Context, rec *session.Record) error {
	m := sessionToModel(rec)
	_, err := s.pgdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: update session: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, sessID id.SessionID) error {
	_, err := s.pgdb.NewDelete((*sessionModel)(nil)).
		Where("id = ?", sessID.String()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: delete session: %w", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, filter *session.ListFilter) ([]*session.Record, error) {
	var models []sessionModel
	q := s.pgdb.NewSelect(&models).OrderExpr("last_seen_at DESC")
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
	result := make([]*session.Record, len(models))
	for i := range models {
		result[i] = sessionFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountSessions(ctx context.Context, filter *session.ListFilter) (int64, error) {
	q := s.pgdb.NewSelect((*sessionModel)(nil))
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

// RevokeSessions runs on the pool so the affected count comes back and the
// statement passes row security once enforcement is forced.
func (s *Store) RevokeSessions(ctx context.Context, principalID, deviceID string, scope session.RevokeScope, at time.Time) (int64, error) {
	if !scope.Valid() {
		return 0, fmt.Errorf("session: unknown revoke scope %q", scope)
	}

	query := `UPDATE user_devices SET revoked_at = $1, updated_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`
	args := []any{at, principalID}
	switch scope {
	case session.RevokeSingle:
		query += ` AND device_id = $3`
		args = append(args, deviceID)
	case session.RevokeOthers:
		query += ` AND device_id <> $3`
		args = append(args, deviceID)
	case session.RevokeAll:
	}

	revoked, err := s.execAsService(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("rowguard: revoke sessions: %w", err)
	}
	return revoked, nil
}

func (s *Store) PurgeRevokedSessions(ctx context.Context, before time.Time) (int64, error) {
	purged, err := s.execAsService(ctx,
		`DELETE FROM user_devices WHERE revoked_at IS NOT NULL AND revoked_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("rowguard: purge revoked sessions: %w", err)
	}
	return purged, nil
}
