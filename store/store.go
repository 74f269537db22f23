// Package store defines the aggregate persistence interface. Each subsystem
// (schema bindings, session ledger, guarded rows, policy registry) defines
// its own store interface. The composite Store composes them all.
// Backends: Postgres, SQLite, Mongo, and Memory.
package store

import (
	"context"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/reconcile"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/session"
)

// Store is the aggregate persistence interface. A single backend (postgres,
// sqlite, mongo, memory) implements all of the subsystem stores, so one
// connection serves bindings, sessions, guarded rows and the registry.
type Store interface {
	schema.Store
	session.Store
	rowguard.RowStore
	reconcile.Registry

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
