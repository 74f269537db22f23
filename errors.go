package rowguard

import "errors"

var (
	// ErrRowDenied is returned by Enforce and by guarded writes when the
	// principal may not perform the operation on the row.
	ErrRowDenied = errors.New("rowguard: row access denied")

	// ErrRowNotFound is returned by guarded reads for rows that do not
	// exist or are not visible to the principal. The two cases are
	// deliberately indistinguishable.
	ErrRowNotFound = errors.New("rowguard: row not found")

	// ErrUnknownResource is returned when a check or reconciliation names
	// a resource that has no ownership binding. This is a configuration
	// error, never an implicit allow.
	ErrUnknownResource = errors.New("rowguard: unknown resource")

	// ErrInvalidOperation is returned when a check names an operation the
	// engine does not evaluate.
	ErrInvalidOperation = errors.New("rowguard: invalid operation")

	// ErrChainTooDeep is returned when ownership resolution exceeds the
	// configured parent-hop limit.
	ErrChainTooDeep = errors.New("rowguard: ownership chain too deep")
)
