package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/reconcile"
)

// Compile-time interface check.
var _ reconcile.Registry = (*Store)(nil)

// InstalledPolicies reads the catalog for every policy bound to the
// resource's table, whoever installed it.
func (s *Store) InstalledPolicies(ctx context.Context, resource string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT policyname FROM pg_policies
		 WHERE schemaname = current_schema() AND tablename = $1
		 ORDER BY policyname`, resource)
	if err != nil {
		return nil, fmt.Errorf("rowguard: list policies for %q: %w", resource, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("rowguard: scan policy name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rowguard: list policies for %q: %w", resource, err)
	}
	return names, nil
}

// Replace retires the named policies and installs the declared one inside
// a single transaction. PostgreSQL DDL is transactional, so a concurrent
// request sees the old policies or the new one, never an empty table.
func (s *Store) Replace(ctx context.Context, p *policy.Policy, retire []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: begin replace: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on error is intentional

	for _, name := range retire {
		if _, err := tx.Exec(ctx, policy.DropStatement(name, p.Resource)); err != nil {
			return fmt.Errorf("rowguard: drop policy %q on %q: %w", name, p.Resource, err)
		}
	}
	// The declared name drops too even when retire omits it, so re-applying
	// an interrupted run cannot collide.
	if _, err := tx.Exec(ctx, policy.DropStatement(p.Name, p.Resource)); err != nil {
		return fmt.Errorf("rowguard: drop policy %q on %q: %w", p.Name, p.Resource, err)
	}
	if _, err := tx.Exec(ctx, p.CreateStatement()); err != nil {
		return fmt.Errorf("rowguard: create policy %q on %q: %w", p.Name, p.Resource, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("rowguard: commit replace: %w", err)
	}
	return nil
}

// EnableEnforcement switches row security on for the resource's table and
// forces it onto the table owner, so the service setting is the only
// bypass left. Both statements are idempotent.
func (s *Store) EnableEnforcement(ctx context.Context, resource string) error {
	if _, err := s.pool.Exec(ctx, policy.EnableStatement(resource)); err != nil {
		return fmt.Errorf("rowguard: enable row security on %q: %w", resource, err)
	}
	if _, err := s.pool.Exec(ctx, policy.ForceStatement(resource)); err != nil {
		return fmt.Errorf("rowguard: force row security on %q: %w", resource, err)
	}
	return nil
}
