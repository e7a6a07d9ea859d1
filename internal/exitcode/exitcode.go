// Package exitcode defines process exit codes for locallm commands.
package exitcode

import "errors"

const (
	Success   = 0
	Error     = 1
	Cancelled = 130 // 128 + SIGINT
)

// ExitError is an error carrying a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e ExitError) Error() string {
	return e.Message
}

// Cancel reports an interrupted operation.
func Cancel(msg string) ExitError {
	return ExitError{Code: Cancelled, Message: msg}
}

// FromError maps an error to the process exit code.
func FromError(err error) int {
	if err == nil {
		return Success
	}
	var exitErr ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return Error
}
