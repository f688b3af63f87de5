// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/google/uuid"

	"github.com/adiadia/triage-runtime/internal/breaker"
	"github.com/adiadia/triage-runtime/internal/domain"
	"github.com/adiadia/triage-runtime/internal/orchestrator"
)

type TriageRunner interface {
	Run(ctx context.Context, in domain.CaseInput) (domain.RunResult, error)
	Stream(ctx context.Context, in domain.CaseInput, sink orchestrator.Sink) (domain.RunResult, error)
}

type ExecutionReader interface {
	GetExecution(ctx context.Context, id uuid.UUID) (domain.ExecutionRecord, error)
}

type ExecutionQueue interface {
	Enqueue(ctx context.Context, in domain.CaseInput, callbackURL string) (uuid.UUID, error)
}

type StepLister interface {
	ListSteps(ctx context.Context, executionID uuid.UUID) ([]domain.StepRecord, error)
}

type EventStreamer interface {
	ListEventsAfter(ctx context.Context, executionID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error)
	ResolveCursorByEventID(ctx context.Context, executionID uuid.UUID, eventID uuid.UUID) (int64, error)
}

type BreakerInspector interface {
	Snapshot() []breaker.State
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}
