// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventPlanBuilt         EventKind = "plan_built"
	EventStepStarted       EventKind = "step_started"
	EventStepSucceeded     EventKind = "step_succeeded"
	EventStepTimedOut      EventKind = "step_timed_out"
	EventStepFailed        EventKind = "step_failed"
	EventFallbackTriggered EventKind = "fallback_triggered"
	EventFinalized         EventKind = "finalized"
	EventRunFailed         EventKind = "run_failed"
)

// Event is one progress notification of a streaming run.
type Event struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	Kind        EventKind `json:"event"`
	Step        StepName  `json:"step,omitempty"`
	Detail      any       `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// EventRecord is a persisted event, ordered by Seq within a run.
type EventRecord struct {
	ID          uuid.UUID       `json:"id"`
	Seq         int64           `json:"seq"`
	ExecutionID uuid.UUID       `json:"execution_id"`
	Type        string          `json:"type"`
	Step        string          `json:"step,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
