// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/google/uuid"

	"github.com/adiadia/triage-runtime/internal/domain"
)

// ExecutionContext holds the case input and every step result produced so
// far. It belongs to a single run and only grows.
type ExecutionContext struct {
	ExecutionID uuid.UUID
	Input       domain.CaseInput
	results     map[string]domain.StepResult
}

func NewExecutionContext(id uuid.UUID, input domain.CaseInput) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID: id,
		Input:       input,
		results:     make(map[string]domain.StepResult),
	}
}

// Set stores result under the step's result key.
func (ec *ExecutionContext) Set(step domain.StepName, result domain.StepResult) {
	if result == nil {
		return
	}
	ec.results[domain.ResultKey(step)] = result
}

func (ec *ExecutionContext) Get(step domain.StepName) (domain.StepResult, bool) {
	r, ok := ec.results[domain.ResultKey(step)]
	return r, ok
}

func (ec *ExecutionContext) Len() int { return len(ec.results) }

// Snapshot returns the read-only view passed to tools.
func (ec *ExecutionContext) Snapshot() domain.StepContext {
	return domain.NewStepContext(ec.ExecutionID, ec.Input, ec.results)
}

// FinalProposal returns the proposeAction result, or an empty proposal when
// the step produced none.
func (ec *ExecutionContext) FinalProposal() domain.Proposal {
	if r, ok := ec.Get(domain.StepProposeAction); ok {
		if p, ok := r.(domain.Proposal); ok {
			return p
		}
	}
	return domain.Proposal{Reasons: []string{}, Citations: []domain.Citation{}}
}
