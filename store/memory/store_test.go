package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/session"
	"github.com/xraph/rowguard/store"
)

// Compile-time check that *Store implements store.Store.
var _ store.Store = (*Store)(nil)

func TestBindingCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	b := &schema.Binding{
		ID:          id.NewBindingID(),
		Resource:    "projects",
		Mode:        schema.ModeDirect,
		OwnerColumn: "user_id",
		PolicyName:  "projects_owner",
		Description: "Projects belong to the user who created them.",
	}

	// Create
	if err := s.CreateBinding(ctx, b); err != nil {
		t.Fatal(err)
	}

	// A second binding for the same resource is rejected.
	dup := &schema.Binding{
		ID:          id.NewBindingID(),
		Resource:    "projects",
		Mode:        schema.ModeDirect,
		OwnerColumn: "user_id",
		PolicyName:  "projects_owner_v2",
	}
	if err := s.CreateBinding(ctx, dup); !errors.Is(err, schema.ErrDuplicateBinding) {
		t.Fatalf("expected duplicate binding error, got %v", err)
	}

	// Get
	got, err := s.GetBinding(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Resource != "projects" {
		t.Fatalf("expected projects, got %s", got.Resource)
	}

	// GetByResource
	got, err = s.GetBindingByResource(ctx, "projects")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != b.ID.String() {
		t.Fatal("resource lookup mismatch")
	}

	// Update
	b.Description = "updated"
	if err := s.UpdateBinding(ctx, b); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetBinding(ctx, b.ID)
	if got.Description != "updated" {
		t.Fatal("update failed")
	}

	// List
	list, _ := s.ListBindings(ctx, &schema.ListFilter{Mode: schema.ModeDirect})
	if len(list) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(list))
	}

	// Count ignores pagination.
	count, _ := s.CountBindings(ctx, &schema.ListFilter{Limit: 0, Offset: 5})
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}

	// Delete
	if err := s.DeleteBinding(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	_, err = s.GetBinding(ctx, b.ID)
	if !errors.Is(err, schema.ErrBindingNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestBindingListOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, resource := range []string{"users", "messages", "projects"} {
		b := &schema.Binding{
			ID:          id.NewBindingID(),
			Resource:    resource,
			Mode:        schema.ModeDirect,
			OwnerColumn: "user_id",
			PolicyName:  resource + "_owner",
		}
		if err := s.CreateBinding(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListBindings(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"messages", "projects", "users"}
	for i, resource := range want {
		if list[i].Resource != resource {
			t.Fatalf("expected %s at %d, got %s", resource, i, list[i].Resource)
		}
	}

	// Pagination windows follow the stable order.
	page, _ := s.ListBindings(ctx, &schema.ListFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].Resource != "projects" {
		t.Fatalf("expected [projects], got %v", page)
	}
}

func TestSessionCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	rec := &session.Record{
		ID:          id.NewSessionID(),
		PrincipalID: "user_1",
		DeviceID:    "dev_a",
		DeviceName:  "Pixel 9",
		Platform:    "android",
		FirstSeenAt: now,
		LastSeenAt:  now,
		LastLoginAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.CreateSession(ctx, rec); err != nil {
		t.Fatal(err)
	}

	// The (principal, device) pair is unique.
	dup := &session.Record{ID: id.NewSessionID(), PrincipalID: "user_1", DeviceID: "dev_a"}
	if err := s.CreateSession(ctx, dup); !errors.Is(err, session.ErrDuplicateDevice) {
		t.Fatalf("expected duplicate device error, got %v", err)
	}

	got, err := s.GetSession(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DeviceName != "Pixel 9" {
		t.Fatalf("expected Pixel 9, got %s", got.DeviceName)
	}

	got, err = s.GetSessionByDevice(ctx, "user_1", "dev_a")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != rec.ID.String() {
		t.Fatal("device lookup mismatch")
	}

	rec.DeviceName = "Pixel 9 Pro"
	if err := s.UpdateSession(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSession(ctx, rec.ID)
	if got.DeviceName != "Pixel 9 Pro" {
		t.Fatal("update failed")
	}

	if err := s.DeleteSession(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	_, err = s.GetSession(ctx, rec.ID)
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestSessionListOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	old := &session.Record{
		ID:          id.NewSessionID(),
		PrincipalID: "user_1",
		DeviceID:    "dev_old",
		LastSeenAt:  now.Add(-time.Hour),
	}
	fresh := &session.Record{
		ID:          id.NewSessionID(),
		PrincipalID: "user_1",
		DeviceID:    "dev_fresh",
		LastSeenAt:  now,
	}
	_ = s.CreateSession(ctx, old)
	_ = s.CreateSession(ctx, fresh)

	list, err := s.ListSessions(ctx, &session.ListFilter{PrincipalID: "user_1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].DeviceID != "dev_fresh" {
		t.Fatalf("expected most recently seen first, got %s", list[0].DeviceID)
	}
}

func TestRevokeAndPurge(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	for _, dev := range []string{"dev_a", "dev_b", "dev_c"} {
		rec := &session.Record{
			ID:          id.NewSessionID(),
			PrincipalID: "user_1",
			DeviceID:    dev,
			LastSeenAt:  now,
		}
		if err := s.CreateSession(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	// Revoke everything except dev_b.
	revoked, err := s.RevokeSessions(ctx, "user_1", "dev_b", session.RevokeOthers, now)
	if err != nil {
		t.Fatal(err)
	}
	if revoked != 2 {
		t.Fatalf("expected 2 revoked, got %d", revoked)
	}

	active, _ := s.ListSessions(ctx, &session.ListFilter{PrincipalID: "user_1", ActiveOnly: true})
	if len(active) != 1 || active[0].DeviceID != "dev_b" {
		t.Fatalf("expected only dev_b active, got %v", active)
	}

	// Revoking again touches nothing: the first pass already stamped them.
	revoked, _ = s.RevokeSessions(ctx, "user_1", "dev_b", session.RevokeOthers, now)
	if revoked != 0 {
		t.Fatalf("expected 0 revoked on second pass, got %d", revoked)
	}

	// Purge removes only sessions revoked before the cutoff.
	purged, err := s.PurgeRevokedSessions(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged, got %d", purged)
	}
	count, _ := s.CountSessions(ctx, &session.ListFilter{PrincipalID: "user_1"})
	if count != 1 {
		t.Fatalf("expected 1 session left, got %d", count)
	}
}

func TestRowCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	row := rowguard.Row{"id": "proj_1", "user_id": "user_1", "name": "atlas"}
	if err := s.InsertRow(ctx, "projects", row); err != nil {
		t.Fatal(err)
	}

	// Duplicate key is rejected.
	if err := s.InsertRow(ctx, "projects", row); err == nil {
		t.Fatal("expected duplicate row error")
	}

	got, err := s.GetRow(ctx, "projects", "proj_1")
	if err != nil {
		t.Fatal(err)
	}
	if name, _ := got.Column("name"); name != "atlas" {
		t.Fatalf("expected atlas, got %s", name)
	}

	// Missing rows come back as (nil, nil), not an error.
	got, err = s.GetRow(ctx, "projects", "proj_missing")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected nil row for missing key")
	}

	// Update
	row["name"] = "atlas-2"
	if err := s.UpdateRow(ctx, "projects", "proj_1", row); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetRow(ctx, "projects", "proj_1")
	if name, _ := got.Column("name"); name != "atlas-2" {
		t.Fatal("update failed")
	}

	if err := s.UpdateRow(ctx, "projects", "proj_missing", row); !errors.Is(err, rowguard.ErrRowNotFound) {
		t.Fatalf("expected row not found, got %v", err)
	}

	// Delete
	if err := s.DeleteRow(ctx, "projects", "proj_1"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetRow(ctx, "projects", "proj_1")
	if got != nil {
		t.Fatal("expected nil row after delete")
	}
}

func TestRowKeyFollowsBinding(t *testing.T) {
	ctx := context.Background()
	s := New()

	b := &schema.Binding{
		ID:          id.NewBindingID(),
		Resource:    "api_keys",
		Mode:        schema.ModeDirect,
		KeyColumn:   "token",
		OwnerColumn: "user_id",
		PolicyName:  "api_keys_owner",
	}
	if err := s.CreateBinding(ctx, b); err != nil {
		t.Fatal(err)
	}

	row := rowguard.Row{"token": "tok_1", "user_id": "user_1"}
	if err := s.InsertRow(ctx, "api_keys", row); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRow(ctx, "api_keys", "tok_1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected row keyed by token column")
	}

	// A row without its key column cannot be stored.
	if err := s.InsertRow(ctx, "api_keys", rowguard.Row{"user_id": "user_1"}); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestRegistryReplace(t *testing.T) {
	ctx := context.Background()
	s := New()

	set, err := schema.NewSet(schema.DefaultBindings())
	if err != nil {
		t.Fatal(err)
	}
	compiled, err := policy.CompileSet(set)
	if err != nil {
		t.Fatal(err)
	}
	p := compiled[0]

	if err := s.Replace(ctx, p, nil); err != nil {
		t.Fatal(err)
	}
	names, _ := s.InstalledPolicies(ctx, p.Resource)
	if len(names) != 1 || names[0] != p.Name {
		t.Fatalf("expected [%s], got %v", p.Name, names)
	}

	// Replace retires named policies and installs the new one atomically.
	renamed := *p
	renamed.Name = p.Name + "_v2"
	if err := s.Replace(ctx, &renamed, names); err != nil {
		t.Fatal(err)
	}
	names, _ = s.InstalledPolicies(ctx, p.Resource)
	if len(names) != 1 || names[0] != renamed.Name {
		t.Fatalf("expected [%s], got %v", renamed.Name, names)
	}

	if s.Enforced(p.Resource) {
		t.Fatal("enforcement should be off until enabled")
	}
	if err := s.EnableEnforcement(ctx, p.Resource); err != nil {
		t.Fatal(err)
	}
	if !s.Enforced(p.Resource) {
		t.Fatal("enforcement should stay on")
	}
	// Enabling twice is fine.
	if err := s.EnableEnforcement(ctx, p.Resource); err != nil {
		t.Fatal(err)
	}
}

func TestMigratePingClose(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
