package api

import "time"

// CheckResponse is the response for an authorization check.
type CheckResponse struct {
	Allowed    bool   `json:"allowed" description:"Whether the request is allowed"`
	Decision   string `json:"decision" description:"Decision code"`
	Reason     string `json:"reason,omitempty" description:"Human-readable reason"`
	EvalTimeNs int64  `json:"eval_time_ns" description:"Evaluation time in nanoseconds"`
}

// BatchCheckResponse contains results for multiple checks.
type BatchCheckResponse struct {
	Results []CheckResponse `json:"results" description:"Check results in order"`
}

// ListResponse wraps a list of items with pagination metadata.
type ListResponse[T any] struct {
	Items  []T   `json:"items" description:"List of items"`
	Total  int64 `json:"total" description:"Total count"`
	Limit  int   `json:"limit" description:"Page size"`
	Offset int   `json:"offset" description:"Page offset"`
}

// ReconcileResponse reports the outcome of a reconciliation run.
type ReconcileResponse struct {
	RunID      string            `json:"run_id" description:"Reconciliation run identifier"`
	Converged  bool              `json:"converged" description:"Whether every resource reconciled cleanly"`
	Outcomes   []OutcomeResponse `json:"outcomes" description:"Per-resource outcomes"`
	StartedAt  time.Time         `json:"started_at" description:"Run start time"`
	FinishedAt time.Time         `json:"finished_at" description:"Run finish time"`
}

// OutcomeResponse is the reconciliation outcome for one resource.
type OutcomeResponse struct {
	Resource string   `json:"resource" description:"Resource (table) name"`
	Policy   string   `json:"policy" description:"Installed policy name"`
	Retired  []string `json:"retired,omitempty" description:"Stale policies dropped during the run"`
	Error    string   `json:"error,omitempty" description:"Failure detail, empty on success"`
}

// InstalledPoliciesResponse lists the policies installed for a resource.
type InstalledPoliciesResponse struct {
	Resource string   `json:"resource" description:"Resource (table) name"`
	Policies []string `json:"policies" description:"Installed policy names"`
}

// RevokeSessionsResponse reports how many sessions a revocation touched.
type RevokeSessionsResponse struct {
	Revoked int64 `json:"revoked" description:"Number of sessions revoked"`
}

// PurgeSessionsResponse reports how many revoked sessions were purged.
type PurgeSessionsResponse struct {
	Purged int64 `json:"purged" description:"Number of sessions deleted"`
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status string `json:"status" description:"Overall status (ok or degraded)"`
	Store  string `json:"store,omitempty" description:"Store error detail when degraded"`
}
