package rowguard_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/store/memory"
)

var (
	u1   = rowguard.Principal{ID: "user_1", Role: rowguard.RoleAuthenticated}
	u2   = rowguard.Principal{ID: "user_2", Role: rowguard.RoleAuthenticated}
	svc  = rowguard.Principal{ID: "svc_backfill", Role: rowguard.RoleService}
	anon = rowguard.Anonymous()
)

func newTestEngine(t *testing.T) (*rowguard.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	set, err := schema.NewSet(schema.DefaultBindings())
	if err != nil {
		t.Fatalf("building binding set: %v", err)
	}
	eng, err := rowguard.NewEngine(
		rowguard.WithBindings(set),
		rowguard.WithRowReader(s),
	)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	return eng, s
}

// seedWorkspace loads two users, a project each, and rows hanging off the
// projects, so ownership chains of both depths are exercised.
func seedWorkspace(t *testing.T, s *memory.Store) {
	t.Helper()
	ctx := context.Background()
	seed := []struct {
		resource string
		row      rowguard.Row
	}{
		{"users", rowguard.Row{"id": "user_1", "email": "ada@example.com"}},
		{"users", rowguard.Row{"id": "user_2", "email": "grace@example.com"}},
		{"projects", rowguard.Row{"id": "proj_1", "user_id": "user_1", "name": "atlas"}},
		{"projects", rowguard.Row{"id": "proj_2", "user_id": "user_2", "name": "borealis"}},
		{"research_plans", rowguard.Row{"id": "plan_1", "project_id": "proj_1"}},
		{"messages", rowguard.Row{"id": "msg_1", "project_id": "proj_1", "body": "kickoff"}},
		{"messages", rowguard.Row{"id": "msg_2", "project_id": "proj_2", "body": "retro"}},
	}
	for _, item := range seed {
		if err := s.InsertRow(ctx, item.resource, item.row); err != nil {
			t.Fatalf("seeding %s: %v", item.resource, err)
		}
	}
}

func TestCheckDirectOwnership(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	seedWorkspace(t, s)

	own, _ := s.GetRow(ctx, "users", "user_1")
	result, err := eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "users",
		Operation: rowguard.OpSelect,
		Row:       own,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed, got %s: %s", result.Decision, result.Reason)
	}

	foreign, _ := s.GetRow(ctx, "users", "user_2")
	result, err = eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "users",
		Operation: rowguard.OpSelect,
		Row:       foreign,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed || result.Decision != rowguard.DecisionDenyNotOwner {
		t.Fatalf("expected deny_not_owner, got %s", result.Decision)
	}
}

func TestCheckOwnershipChain(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	seedWorkspace(t, s)

	msg1, _ := s.GetRow(ctx, "messages", "msg_1")
	msg2, _ := s.GetRow(ctx, "messages", "msg_2")

	// user_1 owns proj_1, so msg_1 resolves to them.
	result, err := eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "messages",
		Operation: rowguard.OpSelect,
		Row:       msg1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed, got %s: %s", result.Decision, result.Reason)
	}

	// msg_2 hangs off proj_2, which belongs to user_2.
	result, err = eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "messages",
		Operation: rowguard.OpSelect,
		Row:       msg2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed || result.Decision != rowguard.DecisionDenyNotOwner {
		t.Fatalf("expected deny_not_owner, got %s", result.Decision)
	}

	result, err = eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u2,
		Resource:  "messages",
		Operation: rowguard.OpSelect,
		Row:       msg2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed for owner, got %s: %s", result.Decision, result.Reason)
	}

	// Plans follow the same single hop.
	plan, _ := s.GetRow(ctx, "research_plans", "plan_1")
	result, err = eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u2,
		Resource:  "research_plans",
		Operation: rowguard.OpSelect,
		Row:       plan,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Fatal("expected deny for non-owner of parent project")
	}
}

func TestCheckAnonymous(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	seedWorkspace(t, s)

	row, _ := s.GetRow(ctx, "projects", "proj_1")
	for _, op := range []rowguard.Operation{rowguard.OpSelect, rowguard.OpInsert, rowguard.OpUpdate, rowguard.OpDelete} {
		result, err := eng.Check(ctx, &rowguard.CheckRequest{
			Principal: anon,
			Resource:  "projects",
			Operation: op,
			Row:       row,
		})
		if err != nil {
			t.Fatal(err)
		}
		if result.Allowed || result.Decision != rowguard.DecisionDenyAnonymous {
			t.Fatalf("%s: expected deny_anonymous, got %s", op, result.Decision)
		}
	}
}

func TestCheckServiceBypass(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	seedWorkspace(t, s)

	// A dangling parent reference makes the chain unresolvable for users,
	// but the privileged role never consults the chain.
	foreign, _ := s.GetRow(ctx, "projects", "proj_2")
	targets := []struct {
		resource string
		row      rowguard.Row
	}{
		{"messages", rowguard.Row{"id": "msg_orphan", "project_id": "proj_gone"}},
		{"projects", foreign},
	}

	for _, target := range targets {
		for _, op := range []rowguard.Operation{rowguard.OpSelect, rowguard.OpInsert, rowguard.OpUpdate, rowguard.OpDelete} {
			result, err := eng.Check(ctx, &rowguard.CheckRequest{
				Principal: svc,
				Resource:  target.resource,
				Operation: op,
				Row:       target.row,
			})
			if err != nil {
				t.Fatal(err)
			}
			if !result.Allowed {
				t.Fatalf("%s %s: expected service bypass, got %s: %s", op, target.resource, result.Decision, result.Reason)
			}
		}
	}
}

func TestCheckUnresolvableChain(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	seedWorkspace(t, s)

	// Parent row does not exist.
	dangling := rowguard.Row{"id": "msg_x", "project_id": "proj_gone"}
	result, err := eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "messages",
		Operation: rowguard.OpSelect,
		Row:       dangling,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed || result.Decision != rowguard.DecisionDenyUnresolvable {
		t.Fatalf("expected deny_unresolvable, got %s", result.Decision)
	}

	// Parent column is absent from the row.
	headless := rowguard.Row{"id": "msg_y"}
	result, err = eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "messages",
		Operation: rowguard.OpSelect,
		Row:       headless,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed || result.Decision != rowguard.DecisionDenyUnresolvable {
		t.Fatalf("expected deny_unresolvable, got %s", result.Decision)
	}

	// Direct binding with an empty owner column is equally unresolvable.
	result, err = eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "projects",
		Operation: rowguard.OpSelect,
		Row:       rowguard.Row{"id": "proj_x", "user_id": ""},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed || result.Decision != rowguard.DecisionDenyUnresolvable {
		t.Fatalf("expected deny_unresolvable, got %s", result.Decision)
	}
}

func TestCheckInsert(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	seedWorkspace(t, s)

	// Inserting into your own project is allowed before the row exists.
	mine := rowguard.Row{"id": "msg_new", "project_id": "proj_1", "body": "draft"}
	result, err := eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "messages",
		Operation: rowguard.OpInsert,
		Row:       mine,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed, got %s: %s", result.Decision, result.Reason)
	}

	// user_2 cannot plant rows in someone else's project.
	result, err = eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u2,
		Resource:  "messages",
		Operation: rowguard.OpInsert,
		Row:       mine,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed || result.Decision != rowguard.DecisionDenyNotOwner {
		t.Fatalf("expected deny_not_owner, got %s", result.Decision)
	}

	// Nor claim a new project for another user.
	result, err = eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "projects",
		Operation: rowguard.OpInsert,
		Row:       rowguard.Row{"id": "proj_3", "user_id": "user_2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Fatalf("expected deny, got %s", result.Decision)
	}
}

func TestCheckShareInsert(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	seedWorkspace(t, s)

	// Only proj_1's owner or the privileged role may grant a share on it.
	share := rowguard.Row{"id": "share_1", "project_id": "proj_1", "grantee_id": "user_2"}

	for _, tc := range []struct {
		name      string
		principal rowguard.Principal
		allowed   bool
	}{
		{"grantee cannot self-share", u2, false},
		{"owner shares own project", u1, true},
		{"service shares anything", svc, true},
	} {
		result, err := eng.Check(ctx, &rowguard.CheckRequest{
			Principal: tc.principal,
			Resource:  "project_shares",
			Operation: rowguard.OpInsert,
			Row:       share,
		})
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if result.Allowed != tc.allowed {
			t.Fatalf("%s: expected allowed=%v, got %s: %s", tc.name, tc.allowed, result.Decision, result.Reason)
		}
	}
}

func TestCheckUpdateOwnerChange(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	seedWorkspace(t, s)

	pre, _ := s.GetRow(ctx, "projects", "proj_1")
	post := pre.Clone()
	post["user_id"] = "user_3"

	// The owner may edit the row but not hand it to someone else.
	result, err := eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "projects",
		Operation: rowguard.OpUpdate,
		Row:       post,
		PreImage:  pre,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed || result.Decision != rowguard.DecisionDenyPostImage {
		t.Fatalf("expected deny_post_image, got %s", result.Decision)
	}

	// Reassignment is a privileged operation.
	result, err = eng.Check(ctx, &rowguard.CheckRequest{
		Principal: svc,
		Resource:  "projects",
		Operation: rowguard.OpUpdate,
		Row:       post,
		PreImage:  pre,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Fatalf("expected service allowed, got %s: %s", result.Decision, result.Reason)
	}

	// An in-place edit that keeps the owner is fine.
	renamed := pre.Clone()
	renamed["name"] = "atlas-2"
	result, err = eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "projects",
		Operation: rowguard.OpUpdate,
		Row:       renamed,
		PreImage:  pre,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed, got %s: %s", result.Decision, result.Reason)
	}
}

func TestCheckUpdateForeignRow(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	seedWorkspace(t, s)

	// The pre-image gate fires before the post-image is even considered.
	pre, _ := s.GetRow(ctx, "projects", "proj_2")
	post := pre.Clone()
	post["name"] = "hijacked"

	result, err := eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "projects",
		Operation: rowguard.OpUpdate,
		Row:       post,
		PreImage:  pre,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed || result.Decision != rowguard.DecisionDenyNotOwner {
		t.Fatalf("expected deny_not_owner, got %s", result.Decision)
	}
}

func TestCheckUpdateDefaultsPreImage(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	seedWorkspace(t, s)

	// Without an explicit pre-image the row stands in for both sides.
	row, _ := s.GetRow(ctx, "projects", "proj_1")
	result, err := eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "projects",
		Operation: rowguard.OpUpdate,
		Row:       row,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed, got %s: %s", result.Decision, result.Reason)
	}
}

func TestCheckUnknownResource(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	_, err := eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "invoices",
		Operation: rowguard.OpSelect,
		Row:       rowguard.Row{"id": "inv_1"},
	})
	if !errors.Is(err, rowguard.ErrUnknownResource) {
		t.Fatalf("expected unknown resource error, got %v", err)
	}
}

func TestCheckInvalidOperation(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	seedWorkspace(t, s)

	row, _ := s.GetRow(ctx, "projects", "proj_1")
	_, err := eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "projects",
		Operation: rowguard.Operation("truncate"),
		Row:       row,
	})
	if !errors.Is(err, rowguard.ErrInvalidOperation) {
		t.Fatalf("expected invalid operation error, got %v", err)
	}
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := rowguard.NewEngine(); err == nil {
		t.Fatal("expected error without bindings")
	}

	// Indirect bindings cannot resolve without a row reader.
	set, err := schema.NewSet(schema.DefaultBindings())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rowguard.NewEngine(rowguard.WithBindings(set)); err == nil {
		t.Fatal("expected error for indirect bindings without a row reader")
	}

	// A direct-only set needs no reader.
	direct, err := schema.NewSet([]*schema.Binding{{
		ID:          id.NewBindingID(),
		Resource:    "users",
		Mode:        schema.ModeDirect,
		OwnerColumn: "id",
		PolicyName:  "users_owner",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rowguard.NewEngine(rowguard.WithBindings(direct)); err != nil {
		t.Fatalf("direct-only set should not need a reader: %v", err)
	}
}

func TestEnforce(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	seedWorkspace(t, s)

	foreign, _ := s.GetRow(ctx, "projects", "proj_2")
	err := eng.Enforce(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "projects",
		Operation: rowguard.OpDelete,
		Row:       foreign,
	})
	if !errors.Is(err, rowguard.ErrRowDenied) {
		t.Fatalf("expected ErrRowDenied, got %v", err)
	}

	own, _ := s.GetRow(ctx, "projects", "proj_1")
	if err := eng.Enforce(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "projects",
		Operation: rowguard.OpDelete,
		Row:       own,
	}); err != nil {
		t.Fatalf("expected allowed enforce, got %v", err)
	}
}

func TestCheckEvalTime(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	seedWorkspace(t, s)

	row, _ := s.GetRow(ctx, "projects", "proj_1")
	result, err := eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "projects",
		Operation: rowguard.OpSelect,
		Row:       row,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.EvalTimeNs < 0 {
		t.Fatalf("expected non-negative eval time, got %d", result.EvalTimeNs)
	}
}

type recordingPlugin struct {
	before int
	after  int
	last   *rowguard.CheckResult
}

func (p *recordingPlugin) Name() string { return "recording" }

func (p *recordingPlugin) OnBeforeDecision(_ context.Context, _ any) error {
	p.before++
	return nil
}

func (p *recordingPlugin) OnAfterDecision(_ context.Context, _ any, result any) error {
	p.after++
	if r, ok := result.(*rowguard.CheckResult); ok {
		p.last = r
	}
	return nil
}

func TestEngineEmitsDecisionHooks(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seedWorkspace(t, s)
	set, err := schema.NewSet(schema.DefaultBindings())
	if err != nil {
		t.Fatal(err)
	}

	rec := &recordingPlugin{}
	eng, err := rowguard.NewEngine(
		rowguard.WithBindings(set),
		rowguard.WithRowReader(s),
		rowguard.WithPlugin(rec),
	)
	if err != nil {
		t.Fatal(err)
	}

	row, _ := s.GetRow(ctx, "projects", "proj_2")
	result, err := eng.Check(ctx, &rowguard.CheckRequest{
		Principal: u1,
		Resource:  "projects",
		Operation: rowguard.OpSelect,
		Row:       row,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.before != 1 || rec.after != 1 {
		t.Fatalf("expected one before and one after, got %d/%d", rec.before, rec.after)
	}
	if rec.last == nil || rec.last.Decision != result.Decision {
		t.Fatal("after hook should observe the decision")
	}
}
