// SPDX-License-Identifier: Apache-2.0

package domain

import "fmt"

type StepName string

const (
	StepGetProfile            StepName = "getProfile"
	StepGetRecentTransactions StepName = "getRecentTransactions"
	StepRiskSignals           StepName = "riskSignals"
	StepKBLookup              StepName = "kbLookup"
	StepDecide                StepName = "decide"
	StepProposeAction         StepName = "proposeAction"
)

const ExecutionTypeFraudTriage = "fraud_triage"

// ResultKey is the execution-context key a step's output is stored under.
func ResultKey(step StepName) string {
	return string(step) + "_result"
}

// Known reports whether step is one of the six pipeline steps.
func (s StepName) Known() bool {
	switch s {
	case StepGetProfile,
		StepGetRecentTransactions,
		StepRiskSignals,
		StepKBLookup,
		StepDecide,
		StepProposeAction:
		return true
	default:
		return false
	}
}

// Plan is an ordered, immutable list of steps.
type Plan []StepName

// FraudTriagePlan returns the fixed plan for the fraud_triage execution type.
func FraudTriagePlan() Plan {
	return Plan{
		StepGetProfile,
		StepGetRecentTransactions,
		StepRiskSignals,
		StepKBLookup,
		StepDecide,
		StepProposeAction,
	}
}

func (p Plan) Strings() []string {
	out := make([]string, 0, len(p))
	for _, s := range p {
		out = append(out, string(s))
	}
	return out
}

func (p Plan) index(step StepName) int {
	for i, s := range p {
		if s == step {
			return i
		}
	}
	return -1
}

// Validate checks the ordering rules later steps rely on: the four lookups
// precede decide, decide precedes proposeAction, and proposeAction is last.
func (p Plan) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty plan", ErrInvalidPlan)
	}

	seen := make(map[StepName]struct{}, len(p))
	for _, s := range p {
		if !s.Known() {
			return fmt.Errorf("%w: %s", ErrUnknownTool, s)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%w: duplicate step %s", ErrInvalidPlan, s)
		}
		seen[s] = struct{}{}
	}

	propose := p.index(StepProposeAction)
	if propose >= 0 && propose != len(p)-1 {
		return fmt.Errorf("%w: %s must be the last step", ErrInvalidPlan, StepProposeAction)
	}

	decide := p.index(StepDecide)
	if decide >= 0 {
		for _, before := range []StepName{StepGetProfile, StepGetRecentTransactions, StepRiskSignals, StepKBLookup} {
			if i := p.index(before); i > decide {
				return fmt.Errorf("%w: %s must run before %s", ErrInvalidPlan, before, StepDecide)
			}
		}
		if propose >= 0 && decide > propose {
			return fmt.Errorf("%w: %s must run before %s", ErrInvalidPlan, StepDecide, StepProposeAction)
		}
	}

	return nil
}
