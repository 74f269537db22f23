package postgres

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/session"
)

// ──────────────────────────────────────────────────
// Binding model
// ──────────────────────────────────────────────────

type bindingModel struct {
	grove.BaseModel `grove:"table:rowguard_bindings"`
	ID              string         `grove:"id,pk"`
	Resource        string         `grove:"resource,notnull"`
	Mode            string         `grove:"mode,notnull"`
	KeyColumn       string         `grove:"key_column"`
	OwnerColumn     string         `grove:"owner_column"`
	ParentColumn    string         `grove:"parent_column"`
	ParentResource  string         `grove:"parent_resource"`
	PolicyName      string         `grove:"policy_name,notnull"`
	Description     string         `grove:"description"`
	Metadata        map[string]any `grove:"metadata,type:jsonb"`
	CreatedAt       time.Time      `grove:"created_at,notnull"`
	UpdatedAt       time.Time      `grove:"updated_at,notnull"`
}

func bindingToModel(b *schema.Binding) *bindingModel {
	return &bindingModel{
		ID:             b.ID.String(),
		Resource:       b.Resource,
		Mode:           string(b.Mode),
		KeyColumn:      b.KeyColumn,
		OwnerColumn:    b.OwnerColumn,
		ParentColumn:   b.ParentColumn,
		ParentResource: b.ParentResource,
		PolicyName:     b.PolicyName,
		Description:    b.Description,
		Metadata:       b.Metadata,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func bindingFromModel(m *bindingModel) *schema.Binding {
	bid, _ := id.ParseBindingID(m.ID) //nolint:errcheck // stored IDs are always valid
	return &schema.Binding{
		ID:             bid,
		Resource:       m.Resource,
		Mode:           schema.Mode(m.Mode),
		KeyColumn:      m.KeyColumn,
		OwnerColumn:    m.OwnerColumn,
		ParentColumn:   m.ParentColumn,
		ParentResource: m.ParentResource,
		PolicyName:     m.PolicyName,
		Description:    m.Description,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// ──────────────────────────────────────────────────
// Session model
// ──────────────────────────────────────────────────

// sessionModel persists into the user_devices table: the same table the
// reconciler installs row policies on, so the ledger is guarded by the
// exact rules it helps enforce.
type sessionModel struct {
	grove.BaseModel `grove:"table:user_devices"`
	ID              string         `grove:"id,pk"`
	UserID          string         `grove:"user_id,notnull"`
	DeviceID        string         `grove:"device_id,notnull"`
	DeviceName      string         `grove:"device_name"`
	Platform        string         `grove:"platform"`
	UserAgent       string         `grove:"user_agent"`
	IPAddress       string         `grove:"ip_address"`
	Metadata        map[string]any `grove:"metadata,type:jsonb"`
	FirstSeenAt     time.Time      `grove:"first_seen_at,notnull"`
	LastSeenAt      time.Time      `grove:"last_seen_at,notnull"`
	LastLoginAt     time.Time      `grove:"last_login_at,notnull"`
	RevokedAt       *time.Time     `grove:"revoked_at"`
	CreatedAt       time.Time      `grove:"created_at,notnull"`
	UpdatedAt       time.Time      `grove:"updated_at,notnull"`
}

func sessionToModel(r *session.Record) *sessionModel {
	m := &sessionModel{
		ID:          r.ID.String(),
		UserID:      r.PrincipalID,
		DeviceID:    r.DeviceID,
		DeviceName:  r.DeviceName,
		Platform:    r.Platform,
		UserAgent:   r.UserAgent,
		IPAddress:   r.IPAddress,
		Metadata:    r.Metadata,
		FirstSeenAt: r.FirstSeenAt,
		LastSeenAt:  r.LastSeenAt,
		LastLoginAt: r.LastLoginAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.RevokedAt != nil {
		ts := *r.RevokedAt
		m.RevokedAt = &ts
	}
	return m
}

func sessionFromModel(m *sessionModel) *session.Record {
	sid, _ := id.ParseSessionID(m.ID) //nolint:errcheck // stored IDs are always valid
	r := &session.Record{
		ID:          sid,
		PrincipalID: m.UserID,
		DeviceID:    m.DeviceID,
		DeviceName:  m.DeviceName,
		Platform:    m.Platform,
		UserAgent:   m.UserAgent,
		IPAddress:   m.IPAddress,
		Metadata:    m.Metadata,
		FirstSeenAt: m.FirstSeenAt,
		LastSeenAt:  m.LastSeenAt,
		LastLoginAt: m.LastLoginAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.RevokedAt != nil {
		ts := *m.RevokedAt
		r.RevokedAt = &ts
	}
	return r
}
