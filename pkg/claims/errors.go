package claims

import "errors"

// Error taxonomy. Everything before a ledger commit is fully local and
// leaves no trace beyond an audit entry; everything after is a permanent
// ledger fact, reversible only via explicit undo.
var (
	// ErrInvalidEvidence rejects proposals with empty or malformed evidence.
	ErrInvalidEvidence = errors.New("invalid evidence")

	// ErrPolicyViolation rejects proposals naming an unknown predicate or
	// evidence source.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrRateLimited rejects proposals from a source over its rate budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrSessionLimitExceeded rejects proposals past the per-session edge
	// budget.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")

	// ErrUndoConflict refuses an undo because a later commit depends on the
	// value being restored. The caller must undo dependents first.
	ErrUndoConflict = errors.New("undo conflict")

	// ErrAlreadyUndone refuses a repeated undo of the same commit.
	ErrAlreadyUndone = errors.New("commit already undone")

	// ErrNotFound is returned when a claim or commit does not exist.
	ErrNotFound = errors.New("not found")
)
