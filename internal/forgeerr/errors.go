// Package forgeerr defines the error taxonomy shared by every forge adapter,
// the sync engine, the write queue, and the store.
//
// Callers distinguish categories with errors.Is against the sentinels below
// rather than by matching on status codes or substrings in an error string.
package forgeerr

import "errors"

var (
	// ErrConnectivity covers network-down, DNS failure, and connection-refused
	// conditions. Retryable; the write path falls back to queued mode.
	ErrConnectivity = errors.New("forge: connectivity error")

	// ErrAuthentication covers a missing, invalid, or expired credential.
	// Non-retryable by the daemon; the binding is marked needs-reauth.
	ErrAuthentication = errors.New("forge: authentication error")

	// ErrRateLimited covers an exhausted request budget. Retryable after the
	// reported reset time; never causes work to be dropped.
	ErrRateLimited = errors.New("forge: rate limited")

	// ErrConflict covers a queued mutation the remote has since moved beyond.
	// The owning pending op is marked superseded and removed.
	ErrConflict = errors.New("forge: remote conflict")

	// ErrPayloadRejected covers a malformed or semantically invalid request
	// (e.g. a label that does not exist at the target). The op is discarded
	// and the cache is left untouched.
	ErrPayloadRejected = errors.New("forge: payload rejected")

	// ErrNotFound covers a requested key absent on the remote.
	ErrNotFound = errors.New("forge: not found")

	// ErrStoreBusy covers transient local write contention. Retried with
	// backoff inside the store boundary.
	ErrStoreBusy = errors.New("store: busy")

	// ErrStoreCorrupt is fatal and carries an actionable remedy: rebuild the
	// cache.
	ErrStoreCorrupt = errors.New("store: corrupt")

	// ErrProtocol covers an adapter response whose shape did not match what
	// was expected. Logged and the offending item skipped.
	ErrProtocol = errors.New("forge: protocol error")
)

// RateLimitError carries the remaining-budget/reset-time metadata a sync
// engine needs to defer work without treating the tick as a failure.
type RateLimitError struct {
	Remaining int
	ResetInMS int64
}

func (e *RateLimitError) Error() string { return "forge: rate limited" }

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ConflictError names the pending op that the remote has diverged from.
type ConflictError struct {
	OpKind string
	Key    string
	Reason string
}

func (e *ConflictError) Error() string {
	return "forge: " + e.OpKind + " on " + e.Key + " superseded: " + e.Reason
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
