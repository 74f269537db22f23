package session

import (
	"context"
	"time"

	"github.com/xraph/rowguard/id"
)

// Store defines persistence operations for the session ledger.
type Store interface {
	// CreateSession persists a new session record. The (principal, device)
	// pair is unique; creating a duplicate is an error.
	CreateSession(ctx context.Context, rec *Record) error

	// GetSession retrieves a session record by ID.
	GetSession(ctx context.Context, sessID id.SessionID) (*Record, error)

	// GetSessionByDevice retrieves the record for a (principal, device) pair.
	GetSessionByDevice(ctx context.Context, principalID, deviceID string) (*Record, error)

	// UpdateSession persists changes to a session record.
	UpdateSession(ctx context.Context, rec *Record) error

	// DeleteSession removes a session record by ID.
	DeleteSession(ctx context.Context, sessID id.SessionID) error

	// ListSessions returns session records matching the filter, most
	// recently seen first.
	ListSessions(ctx context.Context, filter *ListFilter) ([]*Record, error)

	// CountSessions returns the number of records matching the filter.
	CountSessions(ctx context.Context, filter *ListFilter) (int64, error)

	// RevokeSessions stamps revoked_at on the principal's sessions per the
	// scope. deviceID names the targeted device for RevokeSingle and the
	// spared device for RevokeOthers; RevokeAll ignores it. Already
	// revoked sessions are left untouched. Returns the number revoked.
	RevokeSessions(ctx context.Context, principalID, deviceID string, scope RevokeScope, at time.Time) (int64, error)

	// PurgeRevokedSessions deletes sessions revoked before the cutoff.
	// Returns the number deleted.
	PurgeRevokedSessions(ctx context.Context, before time.Time) (int64, error)
}
