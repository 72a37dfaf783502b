package errors

import (
	"fmt"

	crdb "github.com/cockroachdb/errors"
)

// StepError reports a failure tied to one step of an expression program.
type StepError struct {
	Step    int
	Opcode  string
	Message string
	Cause   error
}

func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("step %d (%s): %s: %v", e.Step, e.Opcode, e.Message, e.Cause)
	}
	return fmt.Sprintf("step %d (%s): %s", e.Step, e.Opcode, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// IsStepError checks if err is, or wraps, a step error
func IsStepError(err error) bool {
	var se *StepError
	return crdb.As(err, &se)
}

// StepOf returns the step index carried by err, if any.
func StepOf(err error) (int, bool) {
	var se *StepError
	if crdb.As(err, &se) {
		return se.Step, true
	}
	return 0, false
}

// WrapStepError wraps an existing error with the step it occurred at
func WrapStepError(err error, step int, opcode fmt.Stringer, message string) *StepError {
	return &StepError{
		Step:    step,
		Opcode:  opcode.String(),
		Message: message,
		Cause:   err,
	}
}

// StepErrorf creates a new step error with formatted message
func StepErrorf(step int, opcode fmt.Stringer, format string, args ...interface{}) *StepError {
	return &StepError{
		Step:    step,
		Opcode:  opcode.String(),
		Message: fmt.Sprintf(format, args...),
	}
}
