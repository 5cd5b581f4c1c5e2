package generator

import (
	"fmt"
)

// ExecError reported when the generator process ran but didn't succeed.
// Carries the captured stderr, the batch can continue with other files.
type ExecError struct {
	Input    string
	ExitCode int
	Stderr   string
	err      error
}

// Error returns string combining the failure and captured stderr
func (e *ExecError) Error() string {
	msg := fmt.Sprintf("generator failed for %s", e.Input)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(", exit code %d", e.ExitCode)
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	if e.Stderr == "" {
		return msg
	}
	return msg + "\n\n" + e.Stderr
}

// Unwrap returns the underlying process error
func (e *ExecError) Unwrap() error {
	return e.err
}
