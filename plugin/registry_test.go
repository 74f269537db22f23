package plugin

import (
	"context"
	"log/slog"
	"testing"

	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/session"
)

// testPlugin implements Plugin + BindingCreated + AfterDecision + SessionRevoked.
type testPlugin struct {
	bindingCreatedCalled bool
	afterDecisionCalled  bool
	revokedScope         session.RevokeScope
	revokedCount         int64
}

func (t *testPlugin) Name() string { return "test-plugin" }

func (t *testPlugin) OnBindingCreated(_ context.Context, _ *schema.Binding) error {
	t.bindingCreatedCalled = true
	return nil
}

func (t *testPlugin) OnAfterDecision(_ context.Context, _, _ any) error {
	t.afterDecisionCalled = true
	return nil
}

func (t *testPlugin) OnSessionRevoked(_ context.Context, _ string, scope session.RevokeScope, revoked int64) error {
	t.revokedScope = scope
	t.revokedCount = revoked
	return nil
}

// minimalPlugin only implements Plugin (no hooks).
type minimalPlugin struct{}

func (m *minimalPlugin) Name() string { return "minimal" }

func TestRegistryDispatch(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(slog.Default())

	tp := &testPlugin{}
	reg.Register(tp)
	reg.Register(&minimalPlugin{})

	if len(reg.Plugins()) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(reg.Plugins()))
	}

	// Should dispatch BindingCreated to testPlugin only.
	reg.EmitBindingCreated(ctx, &schema.Binding{ID: id.NewBindingID(), Resource: "projects"})
	if !tp.bindingCreatedCalled {
		t.Fatal("OnBindingCreated was not called")
	}

	// Should dispatch AfterDecision.
	reg.EmitAfterDecision(ctx, nil, nil)
	if !tp.afterDecisionCalled {
		t.Fatal("OnAfterDecision was not called")
	}

	// Should carry scope and count through SessionRevoked.
	reg.EmitSessionRevoked(ctx, "user_1", session.RevokeOthers, 3)
	if tp.revokedScope != session.RevokeOthers || tp.revokedCount != 3 {
		t.Fatalf("unexpected revoke dispatch: scope=%s count=%d", tp.revokedScope, tp.revokedCount)
	}

	// Should not panic on hooks with no listeners.
	reg.EmitBeforeDecision(ctx, nil)
	reg.EmitBindingDeleted(ctx, id.NewBindingID())
	reg.EmitShutdown(ctx)
}
