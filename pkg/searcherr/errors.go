// Package searcherr defines the search core's error taxonomy: a small set
// of error Kinds, most of which never leave the package they occur in (they
// are logged and the offending block is skipped) and a couple of which are
// always surfaced to the caller.
package searcherr

import (
	"errors"
	"fmt"
)

// Kind classifies a search-core error.
type Kind string

const (
	// KindInvalidQuery: empty/whitespace query or non-positive max_results.
	// Always surfaced to the caller.
	KindInvalidQuery Kind = "INVALID_QUERY"
	// KindNotReady: search invoked before initialization. Always surfaced.
	KindNotReady Kind = "NOT_READY"
	// KindStorageUnavailable: ledger or off-chain storage call failed.
	// Surfaced by the façade; strategies downgrade rather than propagate.
	KindStorageUnavailable Kind = "STORAGE_UNAVAILABLE"
	// KindDecryptionFailure: wrong password or malformed ciphertext. Never
	// surfaced; the offending block is skipped and logged at debug level.
	KindDecryptionFailure Kind = "DECRYPTION_FAILURE"
	// KindIndexFailure: per-block metadata build failed. Falls back to
	// minimal metadata; surfaced only via the façade's stats counters.
	KindIndexFailure Kind = "INDEX_FAILURE"
	// KindParseFailure: malformed JSON or encryption-metadata fields. The
	// block is skipped for deep scoring; not surfaced.
	KindParseFailure Kind = "PARSE_FAILURE"
	// KindEngine: a top-level failure the router could not route around at
	// all (every strategy failed). Wraps the original cause.
	KindEngine Kind = "ENGINE"
)

// Error is the search core's error type: a Kind, the operation that failed,
// whether retrying is expected to help, and the underlying cause.
type Error struct {
	Kind      Kind
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a searcherr.Error.
func New(kind Kind, op string, retryable bool, err error) *Error {
	return &Error{Kind: kind, Op: op, Retryable: retryable, Err: err}
}

// Is reports whether err is a *Error of the given kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
