// Package rowguard provides ownership-scoped row authorization for Go.
//
// Rowguard answers one question: may this principal touch this row?
// Every resource declares how its rows are owned, either directly through
// an owner column or indirectly through a one-hop reference to an owning
// parent row. The engine evaluates reads and writes against those
// declarations, and the same declarations compile to native row-level
// security policies so application checks and database enforcement cannot
// drift apart. It is Forge-aware but runs standalone.
//
//	set, err := schema.NewSet(schema.DefaultBindings())
//	eng, err := rowguard.NewEngine(
//	    rowguard.WithBindings(set),
//	    rowguard.WithRowReader(rows),
//	)
//	result, err := eng.Check(ctx, &rowguard.CheckRequest{
//	    Principal: rowguard.Principal{ID: "user_123", Role: rowguard.RoleAuthenticated},
//	    Resource:  "projects",
//	    Operation: rowguard.OpSelect,
//	    Row:       rowguard.Row{"id": "proj_456", "user_id": "user_123"},
//	})
package rowguard

import "fmt"

// Role classifies the trust level of a principal.
type Role string

const (
	// RoleAnonymous is an unauthenticated caller. Anonymous principals
	// carry no id and can never own a row.
	RoleAnonymous Role = "anonymous"

	// RoleAuthenticated is a signed-in caller subject to ownership checks.
	RoleAuthenticated Role = "authenticated"

	// RoleService is a privileged backend caller. It bypasses ownership
	// checks unconditionally.
	RoleService Role = "service"
)

// Principal is the identity a request acts as. It is built once per
// request from verified claims and never mutated afterwards.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsService reports whether the principal holds the privileged role.
func (p Principal) IsService() bool { return p.Role == RoleService }

// Anonymous returns the principal used for requests without claims.
func Anonymous() Principal { return Principal{Role: RoleAnonymous} }

// Operation is the kind of row access being checked.
type Operation string

const (
	// OpSelect governs whether a row is included in read results.
	OpSelect Operation = "select"

	// OpInsert governs whether a proposed row may be created.
	OpInsert Operation = "insert"

	// OpUpdate governs whether a stored row may be replaced. Both the
	// pre-image and the post-image must pass.
	OpUpdate Operation = "update"

	// OpDelete governs whether a stored row may be removed. It uses the
	// visibility rule: a row the principal cannot see cannot be deleted.
	OpDelete Operation = "delete"
)

// Row is a single stored row keyed by column name, holding values as the
// storage layer returned them.
type Row map[string]any

// Column returns the named column as a string. The second return is false
// when the column is absent, NULL, or not representable as a string.
func (r Row) Column(name string) (string, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case fmt.Stringer:
		return s.String(), true
	default:
		return "", false
	}
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// CheckRequest is the input to an authorization check.
type CheckRequest struct {
	Principal Principal `json:"principal"`
	Resource  string    `json:"resource"`
	Operation Operation `json:"operation"`

	// Row is the row under evaluation. For inserts and updates it is the
	// post-image, the row as it would exist after the write commits.
	Row Row `json:"row"`

	// PreImage is the stored row an update would replace. When nil, Row
	// is evaluated for both sides of the update.
	PreImage Row `json:"pre_image,omitempty"`
}

// CheckResult is the outcome of an authorization check.
type CheckResult struct {
	Allowed    bool     `json:"allowed"`
	Decision   Decision `json:"decision"`
	Reason     string   `json:"reason,omitempty"`
	EvalTimeNs int64    `json:"eval_time_ns"`
}

// Decision is the authorization outcome. Denials are ordinary values, not
// errors; callers must present them without distinguishing "not yours"
// from "does not exist".
type Decision string

const (
	// DecisionAllow means the request is permitted.
	DecisionAllow Decision = "allow"

	// DecisionDeny means the request is denied (generic).
	DecisionDeny Decision = "deny"

	// DecisionDenyAnonymous means the principal carries no id.
	DecisionDenyAnonymous Decision = "deny_anonymous"

	// DecisionDenyNotOwner means the row resolves to a different owner.
	DecisionDenyNotOwner Decision = "deny_not_owner"

	// DecisionDenyUnresolvable means the ownership chain is broken: the
	// owner column is empty or a parent reference is missing or dangling.
	DecisionDenyUnresolvable Decision = "deny_unresolvable"

	// DecisionDenyPostImage means an update would leave the row owned by
	// someone other than the principal.
	DecisionDenyPostImage Decision = "deny_post_image"
)
