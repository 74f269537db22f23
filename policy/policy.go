// Package policy compiles resource bindings into named row policies: the
// visibility and write-validation predicates the reconciler installs on a
// live storage engine and the evaluator mirrors in process.
//
// A compiled policy renders its predicates as SQL against two connection
// settings asserted per logical operation: the requesting principal id and
// its role. Unset settings read as NULL, so every comparison fails closed.
package policy

import (
	"fmt"
	"strings"

	"github.com/xraph/rowguard/schema"
)

// Connection settings asserted by the caller for one logical operation.
// The rendered predicates read them with current_setting(..., true) so a
// missing setting denies instead of erroring.
const (
	SettingPrincipalID = "rowguard.principal_id"
	SettingRole        = "rowguard.role"
)

// ServiceRole is the privileged role literal rendered into predicate SQL.
// Kept as a plain string to avoid an import cycle with the root rowguard
// package, which declares the same value as RoleService.
const ServiceRole = "service"

// Policy is a compiled row policy for one resource type. Both predicates
// derive from the same ownership rule today; they stay separate so a future
// binding could diverge them.
type Policy struct {
	Name     string
	Resource string
	Binding  *schema.Binding

	// parent is resolved at compile time for indirect bindings.
	parent *schema.Binding
}

// Installed describes a policy as reported by a live registry.
type Installed struct {
	Name      string `json:"name"`
	Resource  string `json:"resource"`
	Using     string `json:"using,omitempty"`
	WithCheck string `json:"with_check,omitempty"`
}

// Compile validates a binding against its set and binds its policy. The set
// supplies the parent binding for indirect resources.
func Compile(set *schema.Set, b *schema.Binding) (*Policy, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("policy: compile: %w", err)
	}
	p := &Policy{
		Name:     b.PolicyName,
		Resource: b.Resource,
		Binding:  b,
	}
	if b.Mode == schema.ModeIndirect {
		parent := set.Binding(b.ParentResource)
		if parent == nil {
			return nil, fmt.Errorf("policy: compile %q: unknown parent resource %q", b.Resource, b.ParentResource)
		}
		if parent.Mode != schema.ModeDirect {
			return nil, fmt.Errorf("policy: compile %q: parent %q is not direct", b.Resource, b.ParentResource)
		}
		p.parent = parent
	}
	return p, nil
}

// CompileSet compiles every binding in a validated set, in declaration order.
func CompileSet(set *schema.Set) ([]*Policy, error) {
	bindings := set.Bindings()
	policies := make([]*Policy, 0, len(bindings))
	for _, b := range bindings {
		p, err := Compile(set, b)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// Using renders the visibility predicate: the boolean applied to every row
// before it is included in a read result, and to the pre-image of deletes.
func (p *Policy) Using() string {
	return p.predicate()
}

// WithCheck renders the write-validation predicate: the boolean applied to
// the post-image of every insert and update.
func (p *Policy) WithCheck() string {
	return p.predicate()
}

func (p *Policy) predicate() string {
	bypass := fmt.Sprintf("current_setting('%s', true) = '%s'", SettingRole, ServiceRole)
	principal := fmt.Sprintf("current_setting('%s', true)", SettingPrincipalID)

	switch p.Binding.Mode {
	case schema.ModeDirect:
		return fmt.Sprintf("%s OR %s.%s = %s",
			bypass,
			quoteIdent(p.Resource), quoteIdent(p.Binding.OwnerColumn),
			principal)
	case schema.ModeIndirect:
		return fmt.Sprintf(
			"%s OR EXISTS (SELECT 1 FROM %s WHERE %s.%s = %s.%s AND %s.%s = %s)",
			bypass,
			quoteIdent(p.parent.Resource),
			quoteIdent(p.parent.Resource), quoteIdent(p.parent.Key()),
			quoteIdent(p.Resource), quoteIdent(p.Binding.ParentColumn),
			quoteIdent(p.parent.Resource), quoteIdent(p.parent.OwnerColumn),
			principal)
	default:
		return "false"
	}
}

// CreateStatement renders the DDL installing this policy for all commands.
// One rule covers select, insert, update and delete, matching the declared
// policy grouping.
func (p *Policy) CreateStatement() string {
	return fmt.Sprintf("CREATE POLICY %s ON %s FOR ALL USING (%s) WITH CHECK (%s)",
		quoteIdent(p.Name), quoteIdent(p.Resource), p.Using(), p.WithCheck())
}

// DropStatement renders the DDL retiring a named policy from a resource.
func DropStatement(name, resource string) string {
	return fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", quoteIdent(name), quoteIdent(resource))
}

// EnableStatement renders the DDL switching row security on for a resource.
// Idempotent: enabling an already-enabled table is a no-op.
func EnableStatement(resource string) string {
	return fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", quoteIdent(resource))
}

// ForceStatement renders the DDL applying row security to the table owner
// as well. Without it the owning role reads unfiltered, and the service
// setting would not be the only bypass.
func ForceStatement(resource string) string {
	return fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", quoteIdent(resource))
}

// quoteIdent double-quotes a SQL identifier, escaping embedded quotes.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
