package orbit

import "fmt"

// AssertionError signals a broken internal invariant — a bug, not a
// recoverable condition. Callers should not retry on it.
type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string { return "orbit: assertion failed: " + e.Message }

// NotLoggedError is returned when a transform ID is referenced (rollback,
// truncate) but the transform log has no record of it,
// either because it was never applied or because it has already been
// truncated away.
type NotLoggedError struct {
	TransformID string
}

func (e *NotLoggedError) Error() string {
	return fmt.Sprintf("orbit: transform %q is not in the log", e.TransformID)
}

// OutOfRangeError signals that the relative offset given to a log rollback
// or truncate moves the cut point outside the log's bounds.
type OutOfRangeError struct {
	Message string
}

func (e *OutOfRangeError) Error() string { return "orbit: out of range: " + e.Message }

// TransformNotAllowedError is raised by a source before dispatch when a
// transform exceeds its maxRequests limit, rather than after a failed
// attempt. Calling a capability a source lacks is an AssertionError.
type TransformNotAllowedError struct {
	TransformID string
	Reason      string
}

func (e *TransformNotAllowedError) Error() string {
	return fmt.Sprintf("orbit: transform %q not allowed: %s", e.TransformID, e.Reason)
}

// RecordNotFoundError is raised by query operations (findRecord,
// findRelatedRecord) when the requested identity has no matching record and
// the query did not opt into "allow missing".
type RecordNotFoundError struct {
	Identity Identity
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("orbit: record not found: %s", e.Identity)
}

// SchemaError signals that an operation referenced a type, key, or
// relationship the active schema does not define.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string { return "orbit: schema error: " + e.Message }

// NetworkError wraps a transport-level failure (timeout, connection refused,
// DNS) from a remote source. It is always retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "orbit: network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// ClientError wraps a remote 4xx-class response: the request itself was
// rejected and retrying unchanged will not help.
type ClientError struct {
	Status  int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("orbit: client error (%d): %s", e.Status, e.Message)
}

// ServerError wraps a remote 5xx-class response: the request may succeed on
// retry once the remote recovers.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("orbit: server error (%d): %s", e.Status, e.Message)
}
