package provisioner

import (
	"fmt"
)

// ConflictError reports a naming collision or a concurrent remote
// mutation. The caller may retry after resolving the conflict.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// StepError tags a failure with the reconciliation sub-step it occurred
// in, so the caller knows what to retry. Earlier steps are not rolled
// back; the partial result travels alongside.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
