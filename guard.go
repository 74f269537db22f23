package rowguard

import (
	"context"
	"fmt"
)

// RowStore is the storage surface a Guard mediates. GetRow returns
// (nil, nil) for missing rows, mirroring RowReader.
type RowStore interface {
	RowReader
	InsertRow(ctx context.Context, resource string, row Row) error
	UpdateRow(ctx context.Context, resource, key string, row Row) error
	DeleteRow(ctx context.Context, resource, key string) error
}

// Guard routes every read and write through the engine before it reaches
// the store. Rows the principal cannot see surface as ErrRowNotFound,
// identical to rows that do not exist; rejected writes surface as
// ErrRowDenied without naming the owner.
type Guard struct {
	engine *Engine
	store  RowStore
}

// NewGuard creates a guard over the given store.
func NewGuard(engine *Engine, store RowStore) *Guard {
	return &Guard{engine: engine, store: store}
}

// Select returns the identified row if the principal may see it.
func (g *Guard) Select(ctx context.Context, p Principal, resource, key string) (Row, error) {
	row, err := g.fetch(ctx, resource, key)
	if err != nil {
		return nil, err
	}
	visible, err := g.engine.Visible(ctx, p, resource, row)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, fmt.Errorf("%s %s: %w", resource, key, ErrRowNotFound)
	}
	return row, nil
}

// FilterVisible returns the subset of rows the principal may see, in the
// order given. It is the visibility filter applied to read results.
func (g *Guard) FilterVisible(ctx context.Context, p Principal, resource string, rows []Row) ([]Row, error) {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		visible, err := g.engine.Visible(ctx, p, resource, row)
		if err != nil {
			return nil, err
		}
		if visible {
			out = append(out, row)
		}
	}
	return out, nil
}

// Insert validates the proposed row and stores it.
func (g *Guard) Insert(ctx context.Context, p Principal, resource string, row Row) error {
	writable, err := g.engine.Writable(ctx, p, resource, row)
	if err != nil {
		return err
	}
	if !writable {
		return fmt.Errorf("insert %s: %w", resource, ErrRowDenied)
	}
	if err := g.store.InsertRow(ctx, resource, row); err != nil {
		return fmt.Errorf("rowguard: insert %s: %w", resource, err)
	}
	g.engine.InvalidateResource(ctx, resource)
	return nil
}

// Update overlays changed columns onto the stored row and replaces it.
// The pre-image must be visible to the principal and the post-image must
// pass write validation, so an update may neither touch another owner's
// row nor hand a row to another owner.
func (g *Guard) Update(ctx context.Context, p Principal, resource, key string, changes Row) error {
	pre, err := g.fetch(ctx, resource, key)
	if err != nil {
		return err
	}
	visible, err := g.engine.Visible(ctx, p, resource, pre)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("%s %s: %w", resource, key, ErrRowNotFound)
	}

	post := pre.Clone()
	for k, v := range changes {
		post[k] = v
	}
	writable, err := g.engine.Writable(ctx, p, resource, post)
	if err != nil {
		return err
	}
	if !writable {
		return fmt.Errorf("update %s %s: %w", resource, key, ErrRowDenied)
	}

	if err := g.store.UpdateRow(ctx, resource, key, post); err != nil {
		return fmt.Errorf("rowguard: update %s/%s: %w", resource, key, err)
	}
	g.engine.InvalidateResource(ctx, resource)
	return nil
}

// Delete removes the identified row if the principal may see it.
func (g *Guard) Delete(ctx context.Context, p Principal, resource, key string) error {
	pre, err := g.fetch(ctx, resource, key)
	if err != nil {
		return err
	}
	visible, err := g.engine.Visible(ctx, p, resource, pre)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("%s %s: %w", resource, key, ErrRowNotFound)
	}
	if err := g.store.DeleteRow(ctx, resource, key); err != nil {
		return fmt.Errorf("rowguard: delete %s/%s: %w", resource, key, err)
	}
	g.engine.InvalidateResource(ctx, resource)
	return nil
}

func (g *Guard) fetch(ctx context.Context, resource, key string) (Row, error) {
	row, err := g.store.GetRow(ctx, resource, key)
	if err != nil {
		return nil, fmt.Errorf("rowguard: read %s/%s: %w", resource, key, err)
	}
	if row == nil {
		return nil, fmt.Errorf("%s %s: %w", resource, key, ErrRowNotFound)
	}
	return row, nil
}
