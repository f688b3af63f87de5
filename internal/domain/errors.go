// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrToolTimeout       = errors.New("tool timeout")
	ErrUnknownTool       = errors.New("unknown tool")
	ErrStoreUnavailable  = errors.New("record store unavailable")
	ErrMissingDependency = errors.New("missing step dependency")
	ErrInvalidPlan       = errors.New("invalid plan")
	ErrInvalidCaseInput  = errors.New("invalid case input")
	ErrCustomerNotFound  = errors.New("customer not found")
)

// ToolFailure wraps a non-timeout tool error.
type ToolFailure struct {
	Step  StepName
	Cause error
}

func (e ToolFailure) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("tool %s failed", e.Step)
	}
	return fmt.Sprintf("tool %s failed: %v", e.Step, e.Cause)
}

func (e ToolFailure) Unwrap() error {
	return e.Cause
}

// MissingDependency reports a result key absent from the step context.
func MissingDependency(step StepName) error {
	return fmt.Errorf("%w: %s", ErrMissingDependency, ResultKey(step))
}
