package rowguard

import (
	"context"
	"fmt"

	"github.com/xraph/rowguard/schema"
)

// RowReader is the committed-state lookup used to follow parent
// references during ownership resolution. GetRow returns (nil, nil) when
// no such row exists; the resolver treats a missing parent as a broken
// chain, never as unrestricted access.
type RowReader interface {
	GetRow(ctx context.Context, resource, key string) (Row, error)
}

// resolveOwner walks a row's ownership chain and returns the owning
// principal id. The boolean is false when the chain is broken: an absent
// or empty owner column, a missing parent reference, or a dangling parent
// row. Errors are reserved for configuration and storage failures.
func resolveOwner(ctx context.Context, set *schema.Set, rows RowReader, b *schema.Binding, row Row, maxDepth int) (string, bool, error) {
	if row == nil {
		return "", false, nil
	}
	current := row
	for depth := 0; ; depth++ {
		switch b.Mode {
		case schema.ModeDirect:
			owner, ok := current.Column(b.OwnerColumn)
			if !ok || owner == "" {
				return "", false, nil
			}
			return owner, true, nil
		case schema.ModeIndirect:
			if depth >= maxDepth {
				return "", false, fmt.Errorf("%w: %s exceeds %d parent hops", ErrChainTooDeep, b.Resource, maxDepth)
			}
			key, ok := current.Column(b.ParentColumn)
			if !ok || key == "" {
				return "", false, nil
			}
			parent := set.Binding(b.ParentResource)
			if parent == nil {
				return "", false, fmt.Errorf("%w: %q (parent of %q)", ErrUnknownResource, b.ParentResource, b.Resource)
			}
			if rows == nil {
				return "", false, fmt.Errorf("rowguard: resolving %s ownership requires a row reader", b.Resource)
			}
			parentRow, err := rows.GetRow(ctx, b.ParentResource, key)
			if err != nil {
				return "", false, fmt.Errorf("rowguard: read parent %s/%s: %w", b.ParentResource, key, err)
			}
			if parentRow == nil {
				return "", false, nil
			}
			b, current = parent, parentRow
		default:
			return "", false, fmt.Errorf("rowguard: binding %s has invalid mode %q", b.Resource, b.Mode)
		}
	}
}
