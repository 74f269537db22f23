package schema

import (
	"context"

	"github.com/xraph/rowguard/id"
)

// Store defines persistence operations for resource bindings.
type Store interface {
	// CreateBinding persists a new binding.
	CreateBinding(ctx context.Context, b *Binding) error

	// GetBinding retrieves a binding by ID.
	GetBinding(ctx context.Context, bindID id.BindingID) (*Binding, error)

	// GetBindingByResource retrieves the binding declared for a resource.
	GetBindingByResource(ctx context.Context, resource string) (*Binding, error)

	// UpdateBinding persists changes to a binding.
	UpdateBinding(ctx context.Context, b *Binding) error

	// DeleteBinding removes a binding by ID.
	DeleteBinding(ctx context.Context, bindID id.BindingID) error

	// ListBindings returns bindings matching the filter.
	ListBindings(ctx context.Context, filter *ListFilter) ([]*Binding, error)

	// CountBindings returns the number of bindings matching the filter.
	CountBindings(ctx context.Context, filter *ListFilter) (int64, error)
}
