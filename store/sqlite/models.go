package sqlite

import (
	"encoding/json"
	"fmt"
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
	ID              string    `grove:"id,pk"`
	Resource        string    `grove:"resource,notnull"`
	Mode            string    `grove:"mode,notnull"`
	KeyColumn       string    `grove:"key_column"`
	OwnerColumn     string    `grove:"owner_column"`
	ParentColumn    string    `grove:"parent_column"`
	ParentResource  string    `grove:"parent_resource"`
	PolicyName      string    `grove:"policy_name,notnull"`
	Description     string    `grove:"description"`
	Metadata        string    `grove:"metadata"` // JSON text
	CreatedAt       time.Time `grove:"created_at,notnull"`
	UpdatedAt       time.Time `grove:"updated_at,notnull"`
}

func bindingToModel(b *schema.Binding) (*bindingModel, error) {
	metadata, err := json.Marshal(b.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal binding metadata: %w", err)
	}
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
		Metadata:       string(metadata),
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}, nil
}

func bindingFromModel(m *bindingModel) (*schema.Binding, error) {
	bid, _ := id.ParseBindingID(m.ID) //nolint:errcheck // stored IDs are always valid
	var metadata map[string]any
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal binding metadata: %w", err)
		}
	}
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
		Metadata:       metadata,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

// ──────────────────────────────────────────────────
// Session model
// ──────────────────────────────────────────────────

type sessionModel struct {
	grove.BaseModel `grove:"table:user_devices"`
	ID              string     `grove:"id,pk"`
	UserID          string     `grove:"user_id,notnull"`
	DeviceID        string     `grove:"device_id,notnull"`
	DeviceName      string     `grove:"device_name"`
	Platform        string     `grove:"platform"`
	UserAgent       string     `grove:"user_agent"`
	IPAddress       string     `grove:"ip_address"`
	Metadata        string     `grove:"metadata"` // JSON text
	FirstSeenAt     time.Time  `grove:"first_seen_at,notnull"`
	LastSeenAt      time.Time  `grove:"last_seen_at,notnull"`
	LastLoginAt     time.Time  `grove:"last_login_at,notnull"`
	RevokedAt       *time.Time `grove:"revoked_at"`
	CreatedAt       time.Time  `grove:"created_at,notnull"`
	UpdatedAt       time.Time  `grove:"updated_at,notnull"`
}

func sessionToModel(r *session.Record) (*sessionModel, error) {
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal session metadata: %w", err)
	}
	m := &sessionModel{
		ID:          r.ID.String(),
		UserID:      r.PrincipalID,
		DeviceID:    r.DeviceID,
		DeviceName:  r.DeviceName,
		Platform:    r.Platform,
		UserAgent:   r.UserAgent,
		IPAddress:   r.IPAddress,
		Metadata:    string(metadata),
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
	return m, nil
}

func sessionFromModel(m *sessionModel) (*session.Record, error) {
	sid, _ := id.ParseSessionID(m.ID) //nolint:errcheck // stored IDs are always valid
	var metadata map[string]any
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal session metadata: %w", err)
		}
	}
	r := &session.Record{
		ID:          sid,
		PrincipalID: m.UserID,
		DeviceID:    m.DeviceID,
		DeviceName:  m.DeviceName,
		Platform:    m.Platform,
		UserAgent:   m.UserAgent,
		IPAddress:   m.IPAddress,
		Metadata:    metadata,
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
	return r, nil
}

// ──────────────────────────────────────────────────
// Policy registry model
// ──────────────────────────────────────────────────

// policyModel records an installed policy. SQLite has no native row
// policies; the recorded set keeps reconciliation observable and idempotent
// across restarts while the engine stays the enforcement point.
type policyModel struct {
	grove.BaseModel `grove:"table:rowguard_policies"`
	Resource        string    `grove:"resource,pk"`
	Name            string    `grove:"name,pk"`
	UsingExpr       string    `grove:"using_expr"`
	WithCheck       string    `grove:"with_check"`
	InstalledAt     time.Time `grove:"installed_at,notnull"`
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
	Resource        string    `grove:"resource,pk"`
	EnabledAt       time.Time `grove:"enabled_at,notnull"`
}

// ──────────────────────────────────────────────────
// Guarded row model
// ──────────────────────────────────────────────────

// rowModel mirrors guarded rows as JSON documents keyed by resource and
// key column value. It backs development and embedded deployments; the
// PostgreSQL store reads the application's real tables instead.
type rowModel struct {
	grove.BaseModel `grove:"table:rowguard_rows"`
	Resource        string    `grove:"resource,pk"`
	RowKey          string    `grove:"row_key,pk"`
	Data            string    `grove:"data"` // JSON text
	CreatedAt       time.Time `grove:"created_at,notnull"`
	UpdatedAt       time.Time `grove:"updated_at,notnull"`
}
