// Package mongo provides a MongoDB implementation of the Rowguard composite
// store backed by grove ORM, with raw driver access for the guarded row
// documents.
//
// MongoDB has no row level security to install. The policy registry records
// what reconciliation would install, so runs stay observable and idempotent,
// and guarded rows are read and written as plain documents keyed by the
// binding's key column. The engine remains the sole enforcement point on
// this backend.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/reconcile"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/session"
	"github.com/xraph/rowguard/store"
)

// Collection name constants.
const (
	colBindings    = "rowguard_bindings"
	colSessions    = "user_devices"
	colPolicies    = "rowguard_policies"
	colEnforcement = "rowguard_enforcement"
)

// Compile-time interface checks.
var (
	_ store.Store        = (*Store)(nil)
	_ reconcile.Registry = (*Store)(nil)
)

// Store is a MongoDB implementation of the composite Rowguard store.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// Migrate creates indexes for all rowguard collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()
	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("rowguard/mongo: migrate %s indexes: %w", col, err)
		}
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

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all rowguard collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colBindings: {
			{
				Keys:    bson.D{{Key: "resource", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "mode", Value: 1}}},
		},
		colSessions: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "device_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "revoked_at", Value: 1}}},
			{Keys: bson.D{{Key: "last_seen_at", Value: -1}}},
		},
		colPolicies: {
			{
				Keys:    bson.D{{Key: "resource", Value: 1}, {Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "resource", Value: 1}}},
		},
		colEnforcement: {},
	}
}

// ──────────────────────────────────────────────────
// Binding operations
// ──────────────────────────────────────────────────

func (s *Store) CreateBinding(ctx context.Context, b *schema.Binding) error {
	m := bindingToModel(b)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("binding for %q: %w", b.Resource, schema.ErrDuplicateBinding)
		}
		return fmt.Errorf("rowguard: create binding: %w", err)
	}
	return nil
}

func (s *Store) GetBinding(ctx context.Context, bindID id.BindingID) (*schema.Binding, error) {
	var m bindingModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": bindID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("binding %s: %w", bindID, schema.ErrBindingNotFound)
		}
		return nil, fmt.Errorf("rowguard: get binding: %w", err)
	}
	return bindingFromModel(&m), nil
}

func (s *Store) GetBindingByResource(ctx context.Context, resource string) (*schema.Binding, error) {
	var m bindingModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"resource": resource}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("binding for %q: %w", resource, schema.ErrBindingNotFound)
		}
		return nil, fmt.Errorf("rowguard: get binding by resource: %w", err)
	}
	return bindingFromModel(&m), nil
}

func (s *Store) UpdateBinding(ctx context.Context, b *schema.Binding) error {
	m := bindingToModel(b)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: update binding: %w", err)
	}
	if res.MatchedCount() == 0 {
		return fmt.Errorf("binding %s: %w", b.ID, schema.ErrBindingNotFound)
	}
	return nil
}

func (s *Store) DeleteBinding(ctx context.Context, bindID id.BindingID) error {
	_, err := s.mdb.NewDelete((*bindingModel)(nil)).
		Filter(bson.M{"_id": bindID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: delete binding: %w", err)
	}
	return nil
}

func bindingFilter(filter *schema.ListFilter) bson.M {
	f := bson.M{}
	if filter == nil {
		return f
	}
	if filter.Resource != "" {
		f["resource"] = filter.Resource
	}
	if filter.Mode != "" {
		f["mode"] = string(filter.Mode)
	}
	if filter.Search != "" {
		regex := bson.M{"$regex": filter.Search, "$options": "i"}
		f["$or"] = []bson.M{{"resource": regex}, {"description": regex}}
	}
	return f
}

func (s *Store) ListBindings(ctx context.Context, filter *schema.ListFilter) ([]*schema.Binding, error) {
	var models []bindingModel
	q := s.mdb.NewFind(&models).
		Filter(bindingFilter(filter)).
		Sort(bson.D{{Key: "resource", Value: 1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
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
	count, err := s.mdb.NewFind((*bindingModel)(nil)).
		Filter(bindingFilter(filter)).
		Count(ctx)
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
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("session for %s/%s: %w", rec.PrincipalID, rec.DeviceID, session.ErrDuplicateDevice)
		}
		return fmt.Errorf("rowguard: create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessID id.SessionID) (*session.Record, error) {
	var m sessionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": sessID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("session %s: %w", sessID, session.ErrNotFound)
		}
		return nil, fmt.Errorf("rowguard: get session: %w", err)
	}
	return sessionFromModel(&m), nil
}

func (s *Store) GetSessionByDevice(ctx context.Context, principalID, deviceID string) (*session.Record, error) {
	var m sessionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"user_id": principalID, "device_id": deviceID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("session for %s/%s: %w", principalID, deviceID, session.ErrNotFound)
		}
		return nil, fmt.Errorf("rowguard: get session by device: %w", err)
	}
	return sessionFromModel(&m), nil
}

func (s *Store) UpdateSession(ctx context.Context, rec *session.Record) error {
	m := sessionToModel(rec)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: update session: %w", err)
	}
	if res.MatchedCount() == 0 {
		return fmt.Errorf("session %s: %w", rec.ID, session.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, sessID id.SessionID) error {
	_, err := s.mdb.NewDelete((*sessionModel)(nil)).
		Filter(bson.M{"_id": sessID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: delete session: %w", err)
	}
	return nil
}

func sessionFilter(filter *session.ListFilter) bson.M {
	f := bson.M{}
	if filter == nil {
		return f
	}
	if filter.PrincipalID != "" {
		f["user_id"] = filter.PrincipalID
	}
	if filter.DeviceID != "" {
		f["device_id"] = filter.DeviceID
	}
	if filter.ActiveOnly {
		f["revoked_at"] = nil
	}
	return f
}

func (s *Store) ListSessions(ctx context.Context, filter *session.ListFilter) ([]*session.Record, error) {
	var models []sessionModel
	q := s.mdb.NewFind(&models).
		Filter(sessionFilter(filter)).
		Sort(bson.D{{Key: "last_seen_at", Value: -1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
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
	count, err := s.mdb.NewFind((*sessionModel)(nil)).
		Filter(sessionFilter(filter)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("rowguard: count sessions: %w", err)
	}
	return count, nil
}

// RevokeSessions goes through the raw driver handle: grove has no bulk
// update, and stamping every matching document in one statement keeps the
// count exact.
func (s *Store) RevokeSessions(ctx context.Context, principalID, deviceID string, scope session.RevokeScope, at time.Time) (int64, error) {
	if !scope.Valid() {
		return 0, fmt.Errorf("session: unknown revoke scope %q", scope)
	}

	f := bson.M{"user_id": principalID, "revoked_at": nil}
	switch scope {
	case session.RevokeSingle:
		f["device_id"] = deviceID
	case session.RevokeOthers:
		f["device_id"] = bson.M{"$ne": deviceID}
	case session.RevokeAll:
	}

	res, err := s.mdb.Collection(colSessions).UpdateMany(ctx, f,
		bson.M{"$set": bson.M{"revoked_at": at, "updated_at": at}})
	if err != nil {
		return 0, fmt.Errorf("rowguard: revoke sessions: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *Store) PurgeRevokedSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*sessionModel)(nil)).
		Many().
		Filter(bson.M{
			"revoked_at": bson.M{
				"$ne": nil,
				"$lt": before,
			},
		}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rowguard: purge revoked sessions: %w", err)
	}
	return res.DeletedCount(), nil
}

// ──────────────────────────────────────────────────
// Policy registry
// ──────────────────────────────────────────────────

func (s *Store) InstalledPolicies(ctx context.Context, resource string) ([]string, error) {
	var models []policyModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"resource": resource}).
		Sort(bson.D{{Key: "name", Value: 1}}).
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

// Replace runs as delete-then-insert without a transaction: standalone
// MongoDB has none, and reconciliation retries converge regardless.
func (s *Store) Replace(ctx context.Context, p *policy.Policy, retire []string) error {
	names := make([]string, 0, len(retire)+1)
	names = append(names, retire...)
	names = append(names, p.Name)
	_, err := s.mdb.NewDelete((*policyModel)(nil)).
		Many().
		Filter(bson.M{"resource": p.Resource, "name": bson.M{"$in": names}}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: retire policies on %q: %w", p.Resource, err)
	}

	m := policyToModel(p, now())
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("rowguard: install policy %q on %q: %w", p.Name, p.Resource, err)
	}
	return nil
}

func (s *Store) EnableEnforcement(ctx context.Context, resource string) error {
	m := &enforcementModel{Resource: resource, EnabledAt: now()}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return nil // already enforced
		}
		return fmt.Errorf("rowguard: enable enforcement on %q: %w", resource, err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Guarded rows
// ──────────────────────────────────────────────────

// Guarded rows live in one collection per resource, keyed by the binding's
// key column as _id. The key column is folded into _id on write and
// restored on read, so rows round-trip exactly as the evaluator sees them.

func (s *Store) GetRow(ctx context.Context, resource, key string) (rowguard.Row, error) {
	keyCol, err := s.rowKeyColumn(ctx, resource)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	err = s.mdb.Collection(resource).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rowguard: get row %s/%s: %w", resource, key, err)
	}
	row := rowguard.Row(doc)
	delete(row, "_id")
	row[keyCol] = key
	return row, nil
}

func (s *Store) InsertRow(ctx context.Context, resource string, row rowguard.Row) error {
	keyCol, key, err := s.rowKey(ctx, resource, row)
	if err != nil {
		return err
	}
	doc := make(bson.M, len(row))
	for k, v := range row {
		doc[k] = v
	}
	delete(doc, keyCol)
	doc["_id"] = key

	if _, err := s.mdb.Collection(resource).InsertOne(ctx, doc); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("row %s/%s already exists", resource, key)
		}
		return fmt.Errorf("rowguard: insert row %s/%s: %w", resource, key, err)
	}
	return nil
}

func (s *Store) UpdateRow(ctx context.Context, resource, key string, row rowguard.Row) error {
	keyCol, err := s.rowKeyColumn(ctx, resource)
	if err != nil {
		return err
	}
	doc := make(bson.M, len(row))
	for k, v := range row {
		doc[k] = v
	}
	delete(doc, keyCol)
	delete(doc, "_id")

	res, err := s.mdb.Collection(resource).ReplaceOne(ctx, bson.M{"_id": key}, doc)
	if err != nil {
		return fmt.Errorf("rowguard: update row %s/%s: %w", resource, key, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("row %s/%s: %w", resource, key, rowguard.ErrRowNotFound)
	}
	return nil
}

func (s *Store) DeleteRow(ctx context.Context, resource, key string) error {
	_, err := s.mdb.Collection(resource).DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("rowguard: delete row %s/%s: %w", resource, key, err)
	}
	return nil
}

// rowKeyColumn resolves the column that identifies rows of the resource,
// from the stored binding when one exists.
func (s *Store) rowKeyColumn(ctx context.Context, resource string) (string, error) {
	b, err := s.GetBindingByResource(ctx, resource)
	switch {
	case err == nil:
		return b.Key(), nil
	case errors.Is(err, schema.ErrBindingNotFound):
		return schema.DefaultKeyColumn, nil
	default:
		return "", err
	}
}

// rowKey extracts the row's key column and its value.
func (s *Store) rowKey(ctx context.Context, resource string, row rowguard.Row) (string, string, error) {
	keyCol, err := s.rowKeyColumn(ctx, resource)
	if err != nil {
		return "", "", err
	}
	v, ok := row.Column(keyCol)
	if !ok || v == "" {
		return "", "", fmt.Errorf("row for %q has no %s value", resource, keyCol)
	}
	return keyCol, v, nil
}
