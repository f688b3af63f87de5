// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

type OutcomeKind string

const (
	OutcomeSuccess      OutcomeKind = "success"
	OutcomeFailure      OutcomeKind = "failure"
	OutcomeFallbackUsed OutcomeKind = "fallback_used"
)

type ErrorKind string

const (
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindToolFailure ErrorKind = "tool_failure"
)

// StepOutcome is one entry of a step's trace: Success(result),
// Failure(errorKind, message) or FallbackUsed(reason, result).
type StepOutcome struct {
	Kind       OutcomeKind `json:"kind"`
	Step       StepName    `json:"step"`
	ErrorKind  ErrorKind   `json:"error_kind,omitempty"`
	Message    string      `json:"message,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Result     StepResult  `json:"result,omitempty"`
	DurationMs int64       `json:"duration_ms"`
	At         time.Time   `json:"at"`
}

func Success(step StepName, result StepResult, d time.Duration, at time.Time) StepOutcome {
	return StepOutcome{
		Kind:       OutcomeSuccess,
		Step:       step,
		Result:     result,
		DurationMs: d.Milliseconds(),
		At:         at,
	}
}

func Failure(step StepName, kind ErrorKind, message string, d time.Duration, at time.Time) StepOutcome {
	return StepOutcome{
		Kind:       OutcomeFailure,
		Step:       step,
		ErrorKind:  kind,
		Message:    message,
		DurationMs: d.Milliseconds(),
		At:         at,
	}
}

func FallbackUsed(step StepName, reason string, result StepResult, at time.Time) StepOutcome {
	return StepOutcome{
		Kind:   OutcomeFallbackUsed,
		Step:   step,
		Reason: reason,
		Result: result,
		At:     at,
	}
}

// TraceStep groups the outcomes of one plan step, in the order they happened.
// It holds [success], [failure, fallback_used] or [fallback_used].
type TraceStep struct {
	Step     StepName      `json:"step"`
	Outcomes []StepOutcome `json:"outcomes"`
}

// Final returns the outcome whose result was stored in the context.
func (s TraceStep) Final() StepOutcome {
	if len(s.Outcomes) == 0 {
		return StepOutcome{Step: s.Step}
	}
	return s.Outcomes[len(s.Outcomes)-1]
}

func (s TraceStep) UsedFallback() bool {
	return s.Final().Kind == OutcomeFallbackUsed
}

// Trace is the append-only record of one run.
type Trace struct {
	ExecutionType string      `json:"execution_type"`
	Plan          []string    `json:"plan"`
	Steps         []TraceStep `json:"steps"`
	StartedAt     time.Time   `json:"started_at"`
	EndedAt       time.Time   `json:"ended_at,omitzero"`
	Proposal      *Proposal   `json:"final_result,omitempty"`
}

// Outcomes flattens the trace in execution order.
func (t Trace) Outcomes() []StepOutcome {
	out := make([]StepOutcome, 0, len(t.Steps)+2)
	for _, s := range t.Steps {
		out = append(out, s.Outcomes...)
	}
	return out
}

func (t Trace) FallbackCount() int {
	n := 0
	for _, s := range t.Steps {
		if s.UsedFallback() {
			n++
		}
	}
	return n
}
