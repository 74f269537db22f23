// Package schema defines resource bindings: the declared ownership
// configuration for each resource type the engine protects.
//
// A binding names a resource type (its table or collection), how rows of
// that type resolve to an owning principal, and the policy name under which
// the reconciler installs its predicates. Bindings are the sole
// configuration surface the evaluator consumes.
package schema

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/rowguard/id"
)

var (
	// ErrBindingNotFound is returned by stores when a binding cannot be found.
	ErrBindingNotFound = errors.New("schema: binding not found")

	// ErrDuplicateBinding is returned by stores when a resource already has
	// a binding.
	ErrDuplicateBinding = errors.New("schema: binding already exists for resource")
)

// Mode is the ownership mode of a resource type.
type Mode string

const (
	// ModeDirect means rows carry the owner principal id in a column.
	ModeDirect Mode = "direct"

	// ModeIndirect means rows carry a reference to a parent resource whose
	// direct ownership is inherited. Chains never exceed one hop: the parent
	// binding must itself be direct.
	ModeIndirect Mode = "indirect"
)

// DefaultKeyColumn is the column that identifies a row of a resource type
// when no binding overrides it.
const DefaultKeyColumn = "id"

// Binding declares how one resource type resolves row ownership.
type Binding struct {
	ID             id.BindingID   `json:"id" db:"id"`
	Resource       string         `json:"resource" db:"resource"`
	Mode           Mode           `json:"mode" db:"mode"`
	KeyColumn      string         `json:"key_column" db:"key_column"`
	OwnerColumn    string         `json:"owner_column,omitempty" db:"owner_column"`
	ParentColumn   string         `json:"parent_column,omitempty" db:"parent_column"`
	ParentResource string         `json:"parent_resource,omitempty" db:"parent_resource"`
	PolicyName     string         `json:"policy_name" db:"policy_name"`
	Description    string         `json:"description,omitempty" db:"description"`
	Metadata       map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// Validate checks a single binding for structural soundness.
func (b *Binding) Validate() error {
	if b.Resource == "" {
		return fmt.Errorf("schema: binding has no resource")
	}
	if b.PolicyName == "" {
		return fmt.Errorf("schema: binding %q has no policy name", b.Resource)
	}
	switch b.Mode {
	case ModeDirect:
		if b.OwnerColumn == "" {
			return fmt.Errorf("schema: direct binding %q has no owner column", b.Resource)
		}
		if b.ParentColumn != "" || b.ParentResource != "" {
			return fmt.Errorf("schema: direct binding %q declares a parent", b.Resource)
		}
	case ModeIndirect:
		if b.ParentColumn == "" || b.ParentResource == "" {
			return fmt.Errorf("schema: indirect binding %q needs parent column and parent resource", b.Resource)
		}
		if b.OwnerColumn != "" {
			return fmt.Errorf("schema: indirect binding %q declares an owner column", b.Resource)
		}
		if b.ParentResource == b.Resource {
			return fmt.Errorf("schema: indirect binding %q references itself", b.Resource)
		}
	default:
		return fmt.Errorf("schema: binding %q has unknown mode %q", b.Resource, b.Mode)
	}
	return nil
}

// Key returns the binding's key column, falling back to DefaultKeyColumn.
func (b *Binding) Key() string {
	if b.KeyColumn == "" {
		return DefaultKeyColumn
	}
	return b.KeyColumn
}

// Set is an immutable, validated collection of bindings indexed by resource.
// Build one with NewSet; the engine evaluates against it without locking.
type Set struct {
	byResource map[string]*Binding
	ordered    []*Binding
}

// NewSet validates the bindings individually and as a set: resource names
// and policy names must be unique, and every indirect binding's parent must
// exist in the set and be direct (the one-hop depth cap).
func NewSet(bindings []*Binding) (*Set, error) {
	s := &Set{byResource: make(map[string]*Binding, len(bindings))}
	names := make(map[string]string, len(bindings))

	for _, b := range bindings {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.byResource[b.Resource]; dup {
			return nil, fmt.Errorf("schema: duplicate binding for resource %q", b.Resource)
		}
		if prev, dup := names[b.PolicyName]; dup {
			return nil, fmt.Errorf("schema: policy name %q bound to both %q and %q", b.PolicyName, prev, b.Resource)
		}
		s.byResource[b.Resource] = b
		names[b.PolicyName] = b.Resource
		s.ordered = append(s.ordered, b)
	}

	for _, b := range s.ordered {
		if b.Mode != ModeIndirect {
			continue
		}
		parent, ok := s.byResource[b.ParentResource]
		if !ok {
			return nil, fmt.Errorf("schema: binding %q references unknown parent %q", b.Resource, b.ParentResource)
		}
		if parent.Mode != ModeDirect {
			return nil, fmt.Errorf("schema: binding %q references indirect parent %q; chains are capped at one hop", b.Resource, b.ParentResource)
		}
	}

	return s, nil
}

// Binding returns the binding for a resource, or nil if none is declared.
func (s *Set) Binding(resource string) *Binding {
	return s.byResource[resource]
}

// Parent returns the parent binding of an indirect binding, or nil.
func (s *Set) Parent(b *Binding) *Binding {
	if b == nil || b.Mode != ModeIndirect {
		return nil
	}
	return s.byResource[b.ParentResource]
}

// Bindings returns the bindings in declaration order.
func (s *Set) Bindings() []*Binding {
	out := make([]*Binding, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Resources returns the declared resource names in declaration order.
func (s *Set) Resources() []string {
	out := make([]string, len(s.ordered))
	for i, b := range s.ordered {
		out[i] = b.Resource
	}
	return out
}

// HasIndirect reports whether any binding resolves ownership through a parent.
func (s *Set) HasIndirect() bool {
	for _, b := range s.ordered {
		if b.Mode == ModeIndirect {
			return true
		}
	}
	return false
}

// Len returns the number of bindings in the set.
func (s *Set) Len() int { return len(s.ordered) }

// ListFilter contains filters for listing bindings.
type ListFilter struct {
	Resource string `json:"resource,omitempty"`
	Mode     Mode   `json:"mode,omitempty"`
	Search   string `json:"search,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// DefaultBindings returns the binding set for the reference application:
// users, projects and devices own their rows directly; plans, messages and
// shares inherit ownership from their project.
func DefaultBindings() []*Binding {
	return []*Binding{
		{
			ID:          id.NewBindingID(),
			Resource:    "users",
			Mode:        ModeDirect,
			OwnerColumn: "id",
			PolicyName:  "users_owner",
			Description: "Users may only access their own profile row.",
		},
		{
			ID:          id.NewBindingID(),
			Resource:    "projects",
			Mode:        ModeDirect,
			OwnerColumn: "user_id",
			PolicyName:  "projects_owner",
			Description: "Projects are visible and writable by their owner only.",
		},
		{
			ID:             id.NewBindingID(),
			Resource:       "research_plans",
			Mode:           ModeIndirect,
			ParentColumn:   "project_id",
			ParentResource: "projects",
			PolicyName:     "research_plans_owner",
			Description:    "Research plans inherit ownership from their project.",
		},
		{
			ID:             id.NewBindingID(),
			Resource:       "messages",
			Mode:           ModeIndirect,
			ParentColumn:   "project_id",
			ParentResource: "projects",
			PolicyName:     "messages_owner",
			Description:    "Messages inherit ownership from their project.",
		},
		{
			ID:             id.NewBindingID(),
			Resource:       "project_shares",
			Mode:           ModeIndirect,
			ParentColumn:   "project_id",
			ParentResource: "projects",
			PolicyName:     "project_shares_owner",
			Description:    "Share records are managed by the project owner.",
		},
		{
			ID:          id.NewBindingID(),
			Resource:    "user_devices",
			Mode:        ModeDirect,
			OwnerColumn: "user_id",
			PolicyName:  "user_devices_owner",
			Description: "Device sessions belong to the signing-in user.",
		},
	}
}
