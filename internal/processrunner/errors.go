package processrunner

import "fmt"

// ProcessError wraps a child process that could not be launched, timed
// out, or exited non-zero. The caller is still handed the Result it
// accompanies, so command line, stdout and stderr are available for
// the error-level log a stage writes before rejecting the message.
type ProcessError struct {
	CommandLine string
	Cause       error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("processrunner: %s: %v", e.CommandLine, e.Cause)
}

func (e *ProcessError) Unwrap() error { return e.Cause }
