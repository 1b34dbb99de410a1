package dbgateway

import "fmt"

// UsageError is returned when a caller passes an empty table name or an
// empty value map. It is fatal to the call — no SQL is built and no
// reconnect is attempted.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("usage error: %s", e.Reason)
}

// DatabaseError wraps a driver error that survived the gateway's single
// reconnect-and-retry attempt (or wasn't a "gone away" class error to
// begin with). Code mirrors the driver's numeric error code when one is
// available; it is 0 otherwise.
type DatabaseError struct {
	Code    uint16
	Message string
	Cause   error
}

func (e *DatabaseError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("database error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("database error: %s", e.Message)
}

func (e *DatabaseError) Unwrap() error { return e.Cause }

// NotFoundError is returned by repository-level lookups (see the stage
// consumers) when a referenced work record id no longer exists. It is
// not raised by the gateway itself, which only ever returns rows or "no
// rows"; repositories translate "no rows" into NotFoundError because
// only they know which column was the lookup key.
type NotFoundError struct {
	Table string
	ID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s id=%s", e.Table, e.ID)
}
