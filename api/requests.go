package api

// ──────────────────────────────────────────────────
// Check requests
// ──────────────────────────────────────────────────

// CheckRequest is the request body for an authorization check.
type CheckRequest struct {
	PrincipalID string         `json:"principal_id,omitempty" description:"Principal identifier (empty for anonymous)"`
	Role        string         `json:"role,omitempty" description:"Principal role (anonymous, authenticated, service); inferred from principal_id when omitted"`
	Resource    string         `json:"resource" description:"Resource (table) name"`
	Operation   string         `json:"operation" description:"Row operation (select, insert, update, delete)"`
	Row         map[string]any `json:"row,omitempty" description:"Column values of the row under evaluation"`
	PreImage    map[string]any `json:"pre_image,omitempty" description:"Stored column values before an update (defaults to row)"`
}

// BatchCheckRequest contains multiple checks.
type BatchCheckRequest struct {
	Checks []CheckRequest `json:"checks" description:"List of authorization checks"`
}

// ──────────────────────────────────────────────────
// Binding requests
// ──────────────────────────────────────────────────

// CreateBindingRequest is the body for declaring an ownership binding.
type CreateBindingRequest struct {
	Resource       string         `json:"resource" description:"Resource (table) name"`
	Mode           string         `json:"mode" description:"Ownership mode (direct or indirect)"`
	KeyColumn      string         `json:"key_column,omitempty" description:"Primary key column (default: id)"`
	OwnerColumn    string         `json:"owner_column,omitempty" description:"Column holding the owner's principal ID (direct mode)"`
	ParentColumn   string         `json:"parent_column,omitempty" description:"Column referencing the parent row (indirect mode)"`
	ParentResource string         `json:"parent_resource,omitempty" description:"Resource the parent column points at (indirect mode)"`
	PolicyName     string         `json:"policy_name,omitempty" description:"Installed policy name (default: <resource>_owner)"`
	Description    string         `json:"description,omitempty" description:"Human-readable description"`
	Metadata       map[string]any `json:"metadata,omitempty" description:"Custom metadata"`
}

// UpdateBindingRequest is the body for updating a binding.
type UpdateBindingRequest struct {
	KeyColumn      string         `json:"key_column,omitempty" description:"Primary key column"`
	OwnerColumn    string         `json:"owner_column,omitempty" description:"Owner column (direct mode)"`
	ParentColumn   string         `json:"parent_column,omitempty" description:"Parent reference column (indirect mode)"`
	ParentResource string         `json:"parent_resource,omitempty" description:"Parent resource (indirect mode)"`
	PolicyName     string         `json:"policy_name,omitempty" description:"Installed policy name"`
	Description    string         `json:"description,omitempty" description:"Human-readable description"`
	Metadata       map[string]any `json:"metadata,omitempty" description:"Custom metadata"`
}

// GetBindingRequest is the path parameter for getting a binding.
type GetBindingRequest struct {
	BindingID string `path:"bindingId" description:"Binding ID"`
}

// ListBindingsRequest holds query parameters for listing bindings.
type ListBindingsRequest struct {
	Resource string `query:"resource" description:"Filter by resource name"`
	Mode     string `query:"mode" description:"Filter by ownership mode"`
	Search   string `query:"search" description:"Search by resource or description"`
	Limit    int    `query:"limit" description:"Maximum results (default: 50)"`
	Offset   int    `query:"offset" description:"Results to skip"`
}

// ──────────────────────────────────────────────────
// Reconcile requests
// ──────────────────────────────────────────────────

// ReconcileRequest triggers a reconciliation run. The declared bindings
// are read server-side, so the body carries nothing.
type ReconcileRequest struct{}

// InstalledPoliciesRequest holds query parameters for policy introspection.
type InstalledPoliciesRequest struct {
	Resource string `query:"resource" description:"Resource (table) name"`
}

// ──────────────────────────────────────────────────
// Session requests
// ──────────────────────────────────────────────────

// RecordLoginRequest is the body for recording a device login.
type RecordLoginRequest struct {
	PrincipalID string         `json:"principal_id,omitempty" description:"Acting principal (service role only; defaults to the caller)"`
	DeviceID    string         `json:"device_id" description:"Stable device identifier"`
	DeviceName  string         `json:"device_name,omitempty" description:"Human-readable device name"`
	Platform    string         `json:"platform,omitempty" description:"Device platform (ios, android, web)"`
	AppVersion  string         `json:"app_version,omitempty" description:"Client application version"`
	PushToken   string         `json:"push_token,omitempty" description:"Push notification token"`
	UserAgent   string         `json:"user_agent,omitempty" description:"Client user agent"`
	IPAddress   string         `json:"ip_address,omitempty" description:"Client IP address"`
	Metadata    map[string]any `json:"metadata,omitempty" description:"Custom metadata"`
}

// ListSessionsRequest holds query parameters for listing sessions.
type ListSessionsRequest struct {
	PrincipalID string `query:"principal_id" description:"Acting principal (service role only; defaults to the caller)"`
	ActiveOnly  bool   `query:"active_only" description:"Exclude revoked sessions"`
}

// TouchSessionRequest is the body for stamping last-seen on a session.
type TouchSessionRequest struct {
	PrincipalID string `json:"principal_id,omitempty" description:"Acting principal (service role only; defaults to the caller)"`
	DeviceID    string `json:"device_id" description:"Device identifier"`
}

// RevokeSessionsRequest is the body for revoking sessions.
type RevokeSessionsRequest struct {
	PrincipalID string `json:"principal_id,omitempty" description:"Acting principal (service role only; defaults to the caller)"`
	DeviceID    string `json:"device_id,omitempty" description:"Device identifier (required for single and others scopes)"`
	Scope       string `json:"scope" description:"Revocation scope (single, others, all)"`
}

// PurgeSessionsRequest is the body for purging revoked sessions.
type PurgeSessionsRequest struct {
	RetentionHours int `json:"retention_hours" description:"Delete sessions revoked more than this many hours ago"`
}

// ──────────────────────────────────────────────────
// Health requests
// ──────────────────────────────────────────────────

// HealthRequest is the empty request for the health endpoint.
type HealthRequest struct{}
