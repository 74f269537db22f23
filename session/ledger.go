package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/rowguard/id"
)

// Ledger implements session bookkeeping on top of a Store. It holds no
// authorization logic: callers enforce ownership against each record's
// OwnerRow before invoking it, the same way every other resource is
// guarded.
type Ledger struct {
	store Store
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store) *Ledger { return &Ledger{store: store} }

// RecordLogin upserts the record for a (principal, device) pair. A new
// device gets a fresh record; a known device gets its login and seen
// timestamps bumped, updated metadata, and any revocation cleared, since
// a fresh login supersedes it.
func (l *Ledger) RecordLogin(ctx context.Context, rec *Record) (*Record, error) {
	if rec == nil {
		return nil, errors.New("session: record is required")
	}
	if rec.PrincipalID == "" || rec.DeviceID == "" {
		return nil, errors.New("session: principal id and device id are required")
	}
	now := time.Now()

	existing, err := l.store.GetSessionByDevice(ctx, rec.PrincipalID, rec.DeviceID)
	switch {
	case err == nil:
		existing.LastSeenAt = now
		existing.LastLoginAt = now
		existing.RevokedAt = nil
		if rec.DeviceName != "" {
			existing.DeviceName = rec.DeviceName
		}
		if rec.Platform != "" {
			existing.Platform = rec.Platform
		}
		if rec.UserAgent != "" {
			existing.UserAgent = rec.UserAgent
		}
		if rec.IPAddress != "" {
			existing.IPAddress = rec.IPAddress
		}
		if rec.Metadata != nil {
			existing.Metadata = rec.Metadata
		}
		if err := l.store.UpdateSession(ctx, existing); err != nil {
			return nil, fmt.Errorf("session: record login: %w", err)
		}
		return existing, nil
	case errors.Is(err, ErrNotFound):
		rec.ID = id.NewSessionID()
		rec.FirstSeenAt = now
		rec.LastSeenAt = now
		rec.LastLoginAt = now
		rec.RevokedAt = nil
		rec.CreatedAt = now
		rec.UpdatedAt = now
		if err := l.store.CreateSession(ctx, rec); err != nil {
			return nil, fmt.Errorf("session: record login: %w", err)
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("session: record login: %w", err)
	}
}

// Touch bumps the last-seen timestamp for a (principal, device) pair.
// Revoked sessions stay revoked; touching one is not an error so request
// paths can call it unconditionally.
func (l *Ledger) Touch(ctx context.Context, principalID, deviceID string) (*Record, error) {
	rec, err := l.store.GetSessionByDevice(ctx, principalID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("session: touch: %w", err)
	}
	rec.LastSeenAt = time.Now()
	if err := l.store.UpdateSession(ctx, rec); err != nil {
		return nil, fmt.Errorf("session: touch: %w", err)
	}
	return rec, nil
}

// List returns the principal's sessions, most recently seen first.
func (l *Ledger) List(ctx context.Context, principalID string, activeOnly bool) ([]*Record, error) {
	if principalID == "" {
		return nil, errors.New("session: principal id is required")
	}
	recs, err := l.store.ListSessions(ctx, &ListFilter{PrincipalID: principalID, ActiveOnly: activeOnly})
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return recs, nil
}

// Revoke stamps revoked_at on the principal's sessions per the scope and
// returns how many it revoked. RevokeSingle and RevokeOthers require a
// device id; revoking an already revoked session counts zero.
func (l *Ledger) Revoke(ctx context.Context, principalID, deviceID string, scope RevokeScope) (int64, error) {
	if principalID == "" {
		return 0, errors.New("session: principal id is required")
	}
	if !scope.Valid() {
		return 0, fmt.Errorf("session: invalid revoke scope %q", scope)
	}
	if scope != RevokeAll && deviceID == "" {
		return 0, fmt.Errorf("session: revoke scope %q requires a device id", scope)
	}
	n, err := l.store.RevokeSessions(ctx, principalID, deviceID, scope, time.Now())
	if err != nil {
		return 0, fmt.Errorf("session: revoke: %w", err)
	}
	return n, nil
}

// Purge deletes sessions whose revocation is older than the retention
// window and returns how many it deleted.
func (l *Ledger) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		return 0, errors.New("session: retention must not be negative")
	}
	n, err := l.store.PurgeRevokedSessions(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("session: purge: %w", err)
	}
	return n, nil
}
