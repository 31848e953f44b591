package activitypub

import "errors"

// Error kinds used across the federation engine. Handlers map these to
// HTTP statuses; the delivery worker maps them to retry decisions.
var (
	// ErrNotFound means a referenced actor, activity or object is not
	// stored locally. Usually triggers a fetch attempt before surfacing.
	ErrNotFound = errors.New("not found")

	// ErrValidation means a document failed shape or content checks.
	// The activity is dropped and never retried.
	ErrValidation = errors.New("validation failed")

	// ErrBadSignature means an HTTP signature was missing, malformed or
	// did not verify. Never queued for retry.
	ErrBadSignature = errors.New("bad signature")

	// ErrNetwork means a remote fetch or delivery failed at the
	// transport level or with a retryable status.
	ErrNetwork = errors.New("network failure")

	// ErrConflict means a duplicate by activity id. Treated as success.
	ErrConflict = errors.New("duplicate activity")

	// ErrTooLarge means a remote response exceeded the body cap.
	ErrTooLarge = errors.New("response body too large")

	// ErrGone means a remote resource answered 410, typically a deleted
	// actor or object.
	ErrGone = errors.New("resource gone")
)
