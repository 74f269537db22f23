// Package session defines the per-device session ledger.
//
// One record exists per (principal, device) pair. Records are plain rows
// under rowguard's default bindings: they carry direct ownership on
// user_id, so the same evaluator that guards every other resource guards
// the ledger with no extra rules.
package session

import (
	"errors"
	"time"

	"github.com/xraph/rowguard/id"
)

var (
	// ErrNotFound is returned by stores when a session record cannot be found.
	ErrNotFound = errors.New("session: record not found")

	// ErrDuplicateDevice is returned by stores when a (principal, device)
	// pair already has a record.
	ErrDuplicateDevice = errors.New("session: device already recorded")
)

// Resource is the resource name session records are evaluated under.
const Resource = "user_devices"

// Record tracks one principal on one device.
type Record struct {
	ID          id.SessionID   `json:"id" db:"id"`
	PrincipalID string         `json:"principal_id" db:"user_id"`
	DeviceID    string         `json:"device_id" db:"device_id"`
	DeviceName  string         `json:"device_name,omitempty" db:"device_name"`
	Platform    string         `json:"platform,omitempty" db:"platform"`
	UserAgent   string         `json:"user_agent,omitempty" db:"user_agent"`
	IPAddress   string         `json:"ip_address,omitempty" db:"ip_address"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"metadata"`
	FirstSeenAt time.Time      `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time      `json:"last_seen_at" db:"last_seen_at"`
	LastLoginAt time.Time      `json:"last_login_at" db:"last_login_at"`
	RevokedAt   *time.Time     `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// Revoked reports whether the session has been revoked.
func (r *Record) Revoked() bool { return r.RevokedAt != nil }

// OwnerRow projects the record into the column map the ownership
// evaluator reads.
func (r *Record) OwnerRow() map[string]any {
	return map[string]any{
		"id":        r.ID.String(),
		"user_id":   r.PrincipalID,
		"device_id": r.DeviceID,
	}
}

// RevokeScope selects which of a principal's sessions a revocation hits.
type RevokeScope string

const (
	// RevokeSingle revokes the named device's session only.
	RevokeSingle RevokeScope = "single"

	// RevokeOthers revokes every session except the named device's.
	// Used for "sign out everywhere else".
	RevokeOthers RevokeScope = "others"

	// RevokeAll revokes every session the principal has.
	RevokeAll RevokeScope = "all"
)

// Valid reports whether the scope is one of the declared values.
func (s RevokeScope) Valid() bool {
	switch s {
	case RevokeSingle, RevokeOthers, RevokeAll:
		return true
	}
	return false
}

// ListFilter contains filters for listing session records.
type ListFilter struct {
	PrincipalID string `json:"principal_id,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	ActiveOnly  bool   `json:"active_only,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}
