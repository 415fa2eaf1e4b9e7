// Package fault defines the normalized failure taxonomy for calls against
// identity directories and origin servers. Transport-specific error shapes never
// escape the components that produce them; callers branch on Kind only.
package fault

import (
	"errors"
	"fmt"
)

// Kind is a normalized failure category.
type Kind string

const (
	// KindIdentityResolution: the DID document was unfetchable, malformed, or lacked an endpoint.
	KindIdentityResolution Kind = "identity_resolution"

	// KindPDSConnection: network failure, timeout, 5xx, or an open circuit breaker.
	KindPDSConnection Kind = "pds_connection"

	// KindRecordFetch: a definitive 4xx other than not-found, or a malformed record payload.
	KindRecordFetch Kind = "record_fetch"

	// KindBlobFetch: an oversized or truncated blob.
	KindBlobFetch Kind = "blob_fetch"

	// KindInvalidURI: the record address could not be parsed.
	KindInvalidURI Kind = "invalid_uri"

	// KindInternal is reported for errors outside the taxonomy.
	KindInternal Kind = "internal"
)

// Error wraps a failure with its normalized category.
type Error struct {
	Kind        Kind
	Endpoint    string
	Message     string
	StatusCode  int  // HTTP status when the origin answered, 0 otherwise
	Timeout     bool // the call hit its deadline
	CircuitOpen bool
	Underlying  error
}

func (e *Error) Error() string {
	target := ""
	if e.Endpoint != "" {
		target = " " + e.Endpoint
	}
	if e.Underlying != nil {
		return fmt.Sprintf("%s%s: %s: %v", e.Kind, target, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s%s: %s", e.Kind, target, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Retryable reports whether another attempt could plausibly succeed. Open
// circuits are not retried; the breaker decides when to try again.
func (e *Error) Retryable() bool {
	return e.Kind == KindPDSConnection && !e.CircuitOpen
}

// IdentityResolution builds an IdentityResolutionError.
func IdentityResolution(did, message string, underlying error) *Error {
	return &Error{Kind: KindIdentityResolution, Endpoint: did, Message: message, Underlying: underlying}
}

// Connection builds a PDSConnectionError.
func Connection(endpoint, message string, underlying error) *Error {
	return &Error{Kind: KindPDSConnection, Endpoint: endpoint, Message: message, Underlying: underlying}
}

// Timeout builds a PDSConnectionError for a call that exceeded its deadline.
func Timeout(endpoint string, underlying error) *Error {
	return &Error{Kind: KindPDSConnection, Endpoint: endpoint, Message: "request timed out", Timeout: true, Underlying: underlying}
}

// CircuitOpen builds the PDSConnectionError reported while an endpoint's breaker is open.
func CircuitOpen(endpoint string) *Error {
	return &Error{Kind: KindPDSConnection, Endpoint: endpoint, Message: "circuit open", CircuitOpen: true}
}

// ServerError builds a PDSConnectionError for a 5xx (or 429) answer.
func ServerError(endpoint string, status int) *Error {
	return &Error{Kind: KindPDSConnection, Endpoint: endpoint, Message: "origin server error", StatusCode: status}
}

// RecordFetch builds a RecordFetchError.
func RecordFetch(endpoint string, status int, message string, underlying error) *Error {
	return &Error{Kind: KindRecordFetch, Endpoint: endpoint, StatusCode: status, Message: message, Underlying: underlying}
}

// BlobFetch builds a BlobFetchError.
func BlobFetch(endpoint, message string, underlying error) *Error {
	return &Error{Kind: KindBlobFetch, Endpoint: endpoint, Message: message, Underlying: underlying}
}

// InvalidURI builds the error reported for unparseable record addresses.
func InvalidURI(uri string, underlying error) *Error {
	return &Error{Kind: KindInvalidURI, Message: fmt.Sprintf("cannot parse %q", uri), Underlying: underlying}
}

// KindOf extracts the category from an error chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given category.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}
