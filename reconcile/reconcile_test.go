package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/schema"
)

// fakeRegistry is an in-memory Registry. Replace swaps the resource's
// whole policy list under a mutex, mimicking a transactional backend.
type fakeRegistry struct {
	mu         sync.Mutex
	policies   map[string][]*policy.Policy
	enforced   map[string]bool
	failOn     string // resource whose Replace fails
	inFlight   int
	interleave bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		policies: make(map[string][]*policy.Policy),
		enforced: make(map[string]bool),
	}
}

func (f *fakeRegistry) InstalledPolicies(_ context.Context, resource string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, p := range f.policies[resource] {
		names = append(names, p.Name)
	}
	return names, nil
}

func (f *fakeRegistry) Replace(_ context.Context, p *policy.Policy, retire []string) error {
	f.mu.Lock()
	if f.inFlight > 0 {
		f.interleave = true
	}
	f.inFlight++
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	f.mu.Lock()
	defer f.mu.Unlock()
	if p.Resource == f.failOn {
		return fmt.Errorf("replace %s: injected failure", p.Resource)
	}
	kept := f.policies[p.Resource][:0]
	for _, existing := range f.policies[p.Resource] {
		retired := false
		for _, name := range retire {
			if existing.Name == name {
				retired = true
				break
			}
		}
		if !retired {
			kept = append(kept, existing)
		}
	}
	f.policies[p.Resource] = append(kept, p)
	return nil
}

func (f *fakeRegistry) EnableEnforcement(_ context.Context, resource string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enforced[resource] = true
	return nil
}

func (f *fakeRegistry) names(t *testing.T, resource string) []string {
	t.Helper()
	names, err := f.InstalledPolicies(context.Background(), resource)
	if err != nil {
		t.Fatalf("InstalledPolicies(%s): %v", resource, err)
	}
	return names
}

func defaultSet(t *testing.T) *schema.Set {
	t.Helper()
	set, err := schema.NewSet(schema.DefaultBindings())
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	return set
}

func newReconciler(t *testing.T, reg Registry) *Reconciler {
	t.Helper()
	r, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestNewRequiresRegistry(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil registry")
	}
}

func TestApplyInstallsDeclaredSet(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry()
	rec := newReconciler(t, reg)
	set := defaultSet(t)

	result, err := rec.Apply(ctx, set)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.Converged() {
		t.Fatalf("expected convergence, failures: %+v", result.Failed())
	}
	if result.RunID.IsNil() {
		t.Fatal("expected a run id")
	}
	if len(result.Outcomes) != set.Len() {
		t.Fatalf("expected %d outcomes, got %d", set.Len(), len(result.Outcomes))
	}
	for _, b := range set.Bindings() {
		names := reg.names(t, b.Resource)
		if len(names) != 1 || names[0] != b.PolicyName {
			t.Fatalf("resource %s: expected only %q installed, got %v", b.Resource, b.PolicyName, names)
		}
		if !reg.enforced[b.Resource] {
			t.Fatalf("resource %s: enforcement not enabled", b.Resource)
		}
	}
}

func TestApplyIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry()
	rec := newReconciler(t, reg)
	set := defaultSet(t)

	if _, err := rec.Apply(ctx, set); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	result, err := rec.Apply(ctx, set)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if !result.Converged() {
		t.Fatalf("expected convergence, failures: %+v", result.Failed())
	}
	for _, o := range result.Outcomes {
		if len(o.Retired) != 0 {
			t.Fatalf("resource %s: second run retired %v", o.Resource, o.Retired)
		}
	}
	for _, b := range set.Bindings() {
		names := reg.names(t, b.Resource)
		if len(names) != 1 || names[0] != b.PolicyName {
			t.Fatalf("resource %s: expected only %q installed, got %v", b.Resource, b.PolicyName, names)
		}
	}
}

func TestApplyConvergesRenames(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry()
	rec := newReconciler(t, reg)

	first, err := schema.NewSet([]*schema.Binding{{
		Resource:    "projects",
		Mode:        schema.ModeDirect,
		OwnerColumn: "user_id",
		PolicyName:  "projects_owner",
	}})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	if _, err := rec.Apply(ctx, first); err != nil {
		t.Fatalf("Apply first: %v", err)
	}

	renamed, err := schema.NewSet([]*schema.Binding{{
		Resource:    "projects",
		Mode:        schema.ModeDirect,
		OwnerColumn: "user_id",
		PolicyName:  "projects_owner_v2",
	}})
	if err != nil {
		t.Fatalf("NewSet renamed: %v", err)
	}
	result, err := rec.Apply(ctx, renamed)
	if err != nil {
		t.Fatalf("Apply renamed: %v", err)
	}

	names := reg.names(t, "projects")
	if len(names) != 1 || names[0] != "projects_owner_v2" {
		t.Fatalf("expected only renamed policy, got %v", names)
	}
	if len(result.Outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(result.Outcomes))
	}
	retired := result.Outcomes[0].Retired
	if len(retired) != 1 || retired[0] != "projects_owner" {
		t.Fatalf("expected old name retired, got %v", retired)
	}
}

func TestApplyFailureIsFatalPerResource(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry()
	reg.failOn = "messages"
	rec := newReconciler(t, reg)
	set := defaultSet(t)

	result, err := rec.Apply(ctx, set)
	if err == nil {
		t.Fatal("expected an error for the failed resource")
	}
	if result.Converged() {
		t.Fatal("expected a failed outcome")
	}
	failed := result.Failed()
	if len(failed) != 1 || failed[0].Resource != "messages" {
		t.Fatalf("expected messages to fail, got %+v", failed)
	}
	// The failed resource keeps its previous (empty) state; the others
	// still reconciled.
	if names := reg.names(t, "messages"); len(names) != 0 {
		t.Fatalf("failed resource must be left untouched, got %v", names)
	}
	if names := reg.names(t, "projects"); len(names) != 1 {
		t.Fatalf("expected projects to reconcile despite messages failing, got %v", names)
	}
}

func TestApplyRejectsInvalidSet(t *testing.T) {
	reg := newFakeRegistry()
	rec := newReconciler(t, reg)

	if _, err := rec.Apply(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil set")
	}
}

func TestApplySerializesRuns(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry()
	rec := newReconciler(t, reg)
	set := defaultSet(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rec.Apply(ctx, set)
		}(i)
	}
	wg.Wait()

	if reg.interleave {
		t.Fatal("concurrent Apply runs interleaved inside the registry")
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Apply %d: %v", i, err)
		}
	}
}
