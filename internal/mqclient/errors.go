package mqclient

import "fmt"

// TransportError wraps a lost broker connection or channel. Per the
// runtime contract, it is never retried internally: it is returned up
// to cmd/pipeline, which prints it and exits with status 1 so an
// external supervisor restarts the process.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mqclient: %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }
