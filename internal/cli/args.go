package cli

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes returned by Execute.
const (
	ExitOK       = 0
	ExitUsage    = 1
	ExitPipeline = 2
)

// PipelineError marks a failure inside a resolve/verify/download run, as
// opposed to a configuration or usage problem.
type PipelineError struct {
	Target string
	Action string
	Err    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Target, e.Action, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return ExitPipeline
	}
	return ExitUsage
}

// Exit terminates the process with the given exit code.
func Exit(code int) {
	os.Exit(code)
}
