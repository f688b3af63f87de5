// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"maps"

	"github.com/google/uuid"
)

// StepResult is the output a step stores in the execution context.
type StepResult interface {
	Step() StepName
}

type ProfileResult struct {
	Profile Profile `json:"profile"`
}

func (ProfileResult) Step() StepName { return StepGetProfile }

type TransactionsResult struct {
	Recent  []Transaction `json:"recent_transactions"`
	Count   int           `json:"transaction_count"`
	Suspect *Transaction  `json:"suspect_transaction,omitempty"`
}

func (TransactionsResult) Step() StepName { return StepGetRecentTransactions }

type KBResult struct {
	Results     []KBHit  `json:"kb_results"`
	SearchTerms []string `json:"search_terms"`
}

func (KBResult) Step() StepName { return StepKBLookup }

// NoFallback is returned for a step the fallback manager has no substitute for.
type NoFallback struct {
	For   StepName `json:"step"`
	Error string   `json:"error"`
}

func (n NoFallback) Step() StepName { return n.For }

// StepContext is the read-only view of the execution context handed to a tool.
type StepContext struct {
	ExecutionID uuid.UUID
	Input       CaseInput
	results     map[string]StepResult
}

// NewStepContext copies results so later writes to the source map are not observed.
func NewStepContext(executionID uuid.UUID, input CaseInput, results map[string]StepResult) StepContext {
	return StepContext{
		ExecutionID: executionID,
		Input:       input,
		results:     maps.Clone(results),
	}
}

func (c StepContext) Result(step StepName) (StepResult, bool) {
	r, ok := c.results[ResultKey(step)]
	return r, ok
}

func (c StepContext) Profile() (ProfileResult, bool) {
	r, ok := c.Result(StepGetProfile)
	if !ok {
		return ProfileResult{}, false
	}
	p, ok := r.(ProfileResult)
	return p, ok
}

func (c StepContext) Transactions() (TransactionsResult, bool) {
	r, ok := c.Result(StepGetRecentTransactions)
	if !ok {
		return TransactionsResult{}, false
	}
	t, ok := r.(TransactionsResult)
	return t, ok
}

func (c StepContext) Risk() (RiskAssessment, bool) {
	r, ok := c.Result(StepRiskSignals)
	if !ok {
		return RiskAssessment{}, false
	}
	a, ok := r.(RiskAssessment)
	return a, ok
}

func (c StepContext) KB() (KBResult, bool) {
	r, ok := c.Result(StepKBLookup)
	if !ok {
		return KBResult{}, false
	}
	k, ok := r.(KBResult)
	return k, ok
}

func (c StepContext) Decision() (Decision, bool) {
	r, ok := c.Result(StepDecide)
	if !ok {
		return Decision{}, false
	}
	d, ok := r.(Decision)
	return d, ok
}

func (c StepContext) Proposal() (Proposal, bool) {
	r, ok := c.Result(StepProposeAction)
	if !ok {
		return Proposal{}, false
	}
	p, ok := r.(Proposal)
	return p, ok
}
