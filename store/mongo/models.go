package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/session"
)

// ──────────────────────────────────────────────────
// Binding model
// ──────────────────────────────────────────────────

type bindingModel struct {
	grove.BaseModel `grove:"table:rowguard_bindings"`
	ID              string         `grove:"id,pk"           bson:"_id"`
	Resource        string         `grove:"resource"        bson:"resource"`
	Mode            string         `grove:"mode"            bson:"mode"`
	KeyColumn       string         `grove:"key_column"      bson:"key_column"`
	OwnerColumn     string         `grove:"owner_column"    bson:"owner_column"`
	ParentColumn    string         `grove:"parent_column"   bson:"parent_column"`
	ParentResource  string         `grove:"parent_resource" bson:"parent_resource"`
	PolicyName      string         `grove:"policy_name"     bson:"policy_name"`
	Description     string         `grove:"description"     bson:"description"`
	Metadata        map[string]any `grove:"metadata"        bson:"metadata,omitempty"`
	CreatedAt       time.Time      `grove:"created_at"      bson:"created_at"`
	UpdatedAt       time.Time      `grove:"updated_at"      bson:"updated_at"`
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

type sessionModel struct {
	grove.BaseModel `grove:"table:user_devices"`
	ID              string         `grove:"id,pk"           bson:"_id"`
	UserID          string         `grove:"user_id"         bson:"user_id"`
	DeviceID        string         `grove:"device_id"       bson:"device_id"`
	DeviceName      string         `grove:"device_name"     bson:"device_name"`
	Platform        string         `grove:"platform"        bson:"platform"`
	UserAgent       string         `grove:"user_agent"      bson:"user_agent"`
	IPAddress       string         `grove:"ip_address"      bson:"ip_address"`
	Metadata        map[string]any `grove:"metadata"        bson:"metadata,omitempty"`
	FirstSeenAt     time.Time      `grove:"first_seen_at"   bson:"first_seen_at"`
	LastSeenAt      time.Time      `grove:"last_seen_at"    bson:"last_seen_at"`
	LastLoginAt     time.Time      `grove:"last_login_at"   bson:"last_login_at"`
	RevokedAt       *time.Time     `grove:"revoked_at"      bson:"revoked_at,omitempty"`
	CreatedAt       time.Time      `grove:"created_at"      bson:"created_at"`
	UpdatedAt       time.Time      `grove:"updated_at"      bson:"updated_at"`
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

// ──────────────────────────────────────────────────
// Policy registry model
// ──────────────────────────────────────────────────

// policyModel records an installed policy. MongoDB has no row policies to
// install; the recorded set keeps reconciliation observable and idempotent
// across restarts while the engine stays the enforcement point.
type policyModel struct {
	grove.BaseModel `grove:"table:rowguard_policies"`
	Resource        string    `grove:"resource,pk"     bson:"resource"`
	Name            string    `grove:"name,pk"         bson:"name"`
	UsingExpr       string    `grove:"using_expr"      bson:"using_expr"`
	WithCheck       string    `grove:"with_check"      bson:"with_check"`
	InstalledAt     time.Time `grove:"installed_at"    bson:"installed_at"`
}

func policyToModel(p *policy.Policy, at time.Time) *policyModel {
	return &policyModel{
		Resource:    p.Resource,
		Name:        p.Name,
		UsingExpr:   p.Using(),
		WithCheck:   p.WithCheck(),
		InstalledAt: at,
	}
}

type enforcementModel struct {
	grove.BaseModel `grove:"table:rowguard_enforcement"`
	Resource        string    `grove:"resource,pk"     bson:"_id"`
	EnabledAt       time.Time `grove:"enabled_at"      bson:"enabled_at"`
}
