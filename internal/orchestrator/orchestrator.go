// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/adiadia/triage-runtime/internal/domain"
	"github.com/adiadia/triage-runtime/internal/metrics"
	"github.com/adiadia/triage-runtime/internal/tools"
)

var tracer = otel.Tracer("triage-runtime/orchestrator")

const DefaultStepTimeout = 5 * time.Second

// Fallback reasons recorded on FallbackUsed outcomes.
const (
	ReasonCircuitOpen  = "circuit breaker open"
	ReasonTimeout      = "tool timeout"
	ReasonToolFailure  = "tool failure"
	ReasonRunCanceled  = "run canceled"
	ReasonRunDeadline  = "run deadline exceeded"
	ReasonEmptyResult  = "tool returned no result"
	ReasonToolPanicked = "tool panicked"
)

// Store persists executions and their traces.
type Store interface {
	CreateExecution(ctx context.Context, in domain.CaseInput, executionType string, plan []string) (uuid.UUID, error)
	AppendTrace(ctx context.Context, id uuid.UUID, seq int, entry domain.TraceStep) error
	Finalize(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, p domain.FinalizeParams) error
}

// EventStore persists progress events for later replay.
type EventStore interface {
	AppendEvent(ctx context.Context, ev domain.Event) error
}

type Resolver interface {
	Resolve(step domain.StepName) (tools.Tool, error)
}

type Breaker interface {
	Permits(tool string) bool
	RecordFailure(tool string) bool
	RecordSuccess(tool string)
}

type Fallbacks interface {
	For(step domain.StepName, sc domain.StepContext) (domain.StepResult, string)
}

type Deps struct {
	Store     Store
	Events    EventStore
	Tools     Resolver
	Breaker   Breaker
	Fallbacks Fallbacks
	Plan      domain.Plan
	Logger    *slog.Logger

	StepTimeout  time.Duration
	StepTimeouts map[domain.StepName]time.Duration
	// RunTimeout bounds the whole run. Zero means unbounded.
	RunTimeout time.Duration
	Now        func() time.Time
}

type Orchestrator struct {
	store        Store
	events       EventStore
	tools        Resolver
	breaker      Breaker
	fallbacks    Fallbacks
	plan         domain.Plan
	logger       *slog.Logger
	stepTimeout  time.Duration
	stepTimeouts map[domain.StepName]time.Duration
	runTimeout   time.Duration
	now          func() time.Time
}

// New validates the plan and checks that every step resolves to a tool.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Store == nil || deps.Tools == nil || deps.Breaker == nil || deps.Fallbacks == nil {
		return nil, errors.New("orchestrator: store, tools, breaker and fallbacks are required")
	}

	plan := deps.Plan
	if plan == nil {
		plan = domain.FraudTriagePlan()
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	for _, step := range plan {
		if _, err := deps.Tools.Resolve(step); err != nil {
			return nil, err
		}
	}

	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	stepTimeout := deps.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		store:        deps.Store,
		events:       deps.Events,
		tools:        deps.Tools,
		breaker:      deps.Breaker,
		fallbacks:    deps.Fallbacks,
		plan:         append(domain.Plan(nil), plan...),
		logger:       l,
		stepTimeout:  stepTimeout,
		stepTimeouts: deps.StepTimeouts,
		runTimeout:   deps.RunTimeout,
		now:          now,
	}, nil
}

func (o *Orchestrator) Plan() domain.Plan {
	return append(domain.Plan(nil), o.plan...)
}

// StepTimeout returns the deadline applied to step.
func (o *Orchestrator) StepTimeout(step domain.StepName) time.Duration {
	if d, ok := o.stepTimeouts[step]; ok && d > 0 {
		return d
	}
	return o.stepTimeout
}

// Run executes the plan to completion and returns the final result.
func (o *Orchestrator) Run(ctx context.Context, input domain.CaseInput) (domain.RunResult, error) {
	return o.Stream(ctx, input, NopSink)
}

// Stream behaves like Run and also reports every transition to sink.
func (o *Orchestrator) Stream(ctx context.Context, input domain.CaseInput, sink Sink) (domain.RunResult, error) {
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return domain.RunResult{Status: domain.ExecutionFailed, Error: err.Error()}, err
	}

	start := o.now()
	storeCtx := context.WithoutCancel(ctx)

	id, err := o.store.CreateExecution(storeCtx, input, domain.ExecutionTypeFraudTriage, o.plan.Strings())
	if err != nil {
		err = wrapStore(err)
		o.logger.Error("create execution failed", "customer_id", input.CustomerID, "error", err)
		metrics.IncExecutionStatus(domain.ExecutionFailed)
		res := domain.RunResult{Status: domain.ExecutionFailed, Error: err.Error()}
		o.emit(storeCtx, sink, domain.Event{Kind: domain.EventRunFailed, Detail: map[string]any{"error": err.Error()}})
		return res, err
	}

	return o.execute(ctx, id, input, sink, start)
}

// Execute runs the plan for an execution that already exists in the store,
// such as one claimed from the async queue.
func (o *Orchestrator) Execute(ctx context.Context, id uuid.UUID, input domain.CaseInput, sink Sink) (domain.RunResult, error) {
	if sink == nil {
		sink = NopSink
	}
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return o.fail(context.WithoutCancel(ctx), id, sink, domain.Trace{}, o.now(), err)
	}
	return o.execute(ctx, id, input, sink, o.now())
}

func (o *Orchestrator) execute(ctx context.Context, id uuid.UUID, input domain.CaseInput, sink Sink, start time.Time) (domain.RunResult, error) {
	storeCtx := context.WithoutCancel(ctx)

	ctx, span := tracer.Start(ctx, "triage.Run",
		trace.WithAttributes(
			attribute.String("triage.execution_id", id.String()),
			attribute.String("triage.execution_type", domain.ExecutionTypeFraudTriage),
			attribute.Int("triage.plan_length", len(o.plan)),
		),
	)
	defer span.End()

	runCtx := ctx
	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	o.logger.Info("execution started",
		"execution_id", id,
		"customer_id", input.CustomerID,
		"plan", o.plan.Strings(),
	)

	ec := NewExecutionContext(id, input)
	tr := domain.Trace{
		ExecutionType: domain.ExecutionTypeFraudTriage,
		Plan:          o.plan.Strings(),
		Steps:         make([]domain.TraceStep, 0, len(o.plan)),
		StartedAt:     start,
	}

	o.emit(storeCtx, sink, domain.Event{
		ExecutionID: id,
		Kind:        domain.EventPlanBuilt,
		Detail:      map[string]any{"plan": tr.Plan, "execution_type": tr.ExecutionType},
	})

	for i, step := range o.plan {
		var entry domain.TraceStep

		if err := runCtx.Err(); err != nil {
			entry = o.abandonStep(storeCtx, id, step, ec, sink, err)
		} else {
			tool, err := o.tools.Resolve(step)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return o.fail(storeCtx, id, sink, tr, start, err)
			}
			entry = o.runStep(ctx, storeCtx, id, step, tool, ec, sink)
		}

		ec.Set(step, entry.Final().Result)
		tr.Steps = append(tr.Steps, entry)

		if err := o.store.AppendTrace(storeCtx, id, i, entry); err != nil {
			err = wrapStore(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return o.fail(storeCtx, id, sink, tr, start, err)
		}
	}

	proposal := ec.FinalProposal()
	tr.EndedAt = o.now()
	tr.Proposal = &proposal
	duration := tr.EndedAt.Sub(start)

	if err := o.store.Finalize(storeCtx, id, domain.ExecutionCompleted, domain.FinalizeParams{
		Trace:      tr,
		Result:     &proposal,
		DurationMs: duration.Milliseconds(),
	}); err != nil {
		err = wrapStore(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return o.fail(storeCtx, id, sink, tr, start, err)
	}

	metrics.IncExecutionStatus(domain.ExecutionCompleted)
	metrics.ObserveExecutionDuration(duration)
	span.SetAttributes(
		attribute.String("triage.action", string(proposal.Action)),
		attribute.Int("triage.fallbacks", tr.FallbackCount()),
	)
	span.SetStatus(codes.Ok, "")

	o.logger.Info("execution completed",
		"execution_id", id,
		"action", proposal.Action,
		"risk_level", proposal.RiskLevel,
		"fallbacks", tr.FallbackCount(),
		"duration_ms", duration.Milliseconds(),
	)

	o.emit(storeCtx, sink, domain.Event{
		ExecutionID: id,
		Kind:        domain.EventFinalized,
		Detail: map[string]any{
			"status":       domain.ExecutionCompleted,
			"duration_ms":  duration.Milliseconds(),
			"final_result": proposal,
		},
	})

	return domain.RunResult{
		ExecutionID: id,
		Status:      domain.ExecutionCompleted,
		DurationMs:  duration.Milliseconds(),
		Trace:       tr,
		Proposal:    proposal,
	}, nil
}

// runStep attempts one step, or substitutes its fallback when the breaker is
// open or the tool fails.
func (o *Orchestrator) runStep(
	ctx context.Context,
	storeCtx context.Context,
	id uuid.UUID,
	step domain.StepName,
	tool tools.Tool,
	ec *ExecutionContext,
	sink Sink,
) domain.TraceStep {
	entry := domain.TraceStep{Step: step}
	sc := ec.Snapshot()
	timeout := o.StepTimeout(step)

	// Announced before the breaker check so skipped steps still show a start.
	o.emit(storeCtx, sink, domain.Event{
		ExecutionID: id,
		Kind:        domain.EventStepStarted,
		Step:        step,
		Detail:      map[string]any{"timeout_ms": timeout.Milliseconds()},
	})

	if !o.breaker.Permits(string(step)) {
		o.logger.Warn("circuit breaker open, using fallback",
			"execution_id", id,
			"step", step,
		)
		entry.Outcomes = append(entry.Outcomes, o.useFallback(storeCtx, id, step, sc, sink, ReasonCircuitOpen))
		return entry
	}

	spanCtx, span := tracer.Start(ctx, "triage.step",
		trace.WithAttributes(
			attribute.String("triage.step", string(step)),
			attribute.String("triage.execution_id", id.String()),
			attribute.Int64("triage.timeout_ms", timeout.Milliseconds()),
		),
	)
	defer span.End()

	// The step deadline is independent of run cancellation; a step in
	// flight is never cut short by the run deadline.
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(spanCtx), timeout)
	defer cancel()

	began := o.now()
	result, err := invoke(stepCtx, step, tool, sc, timeout)
	elapsed := o.now().Sub(began)
	metrics.ObserveStepDuration(step, elapsed)

	if err == nil {
		o.breaker.RecordSuccess(string(step))
		metrics.IncStepOutcome(step, domain.OutcomeSuccess)
		span.SetStatus(codes.Ok, "")

		o.logger.Info("step succeeded",
			"execution_id", id,
			"step", step,
			"duration_ms", elapsed.Milliseconds(),
		)
		o.emit(storeCtx, sink, domain.Event{
			ExecutionID: id,
			Kind:        domain.EventStepSucceeded,
			Step:        step,
			Detail:      map[string]any{"duration_ms": elapsed.Milliseconds(), "result": result},
		})

		entry.Outcomes = append(entry.Outcomes, domain.Success(step, result, elapsed, o.now()))
		return entry
	}

	kind, reason, eventKind := classify(err, stepCtx)
	if kind == domain.ErrorKindToolFailure {
		err = domain.ToolFailure{Step: step, Cause: err}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if open := o.breaker.RecordFailure(string(step)); open {
		metrics.IncBreakerOpen(step)
	}
	metrics.IncStepOutcome(step, domain.OutcomeFailure)

	o.logger.Warn("step failed, using fallback",
		"execution_id", id,
		"step", step,
		"error_kind", kind,
		"duration_ms", elapsed.Milliseconds(),
		"error", err,
	)
	o.emit(storeCtx, sink, domain.Event{
		ExecutionID: id,
		Kind:        eventKind,
		Step:        step,
		Detail:      map[string]any{"error": err.Error(), "duration_ms": elapsed.Milliseconds()},
	})

	entry.Outcomes = append(entry.Outcomes, domain.Failure(step, kind, err.Error(), elapsed, o.now()))
	entry.Outcomes = append(entry.Outcomes, o.useFallback(storeCtx, id, step, sc, sink, reason))
	return entry
}

// abandonStep records a step skipped because the run was canceled or ran
// out of time. Breakers are left untouched.
func (o *Orchestrator) abandonStep(storeCtx context.Context, id uuid.UUID, step domain.StepName, ec *ExecutionContext, sink Sink, cause error) domain.TraceStep {
	reason := ReasonRunCanceled
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = ReasonRunDeadline
	}
	o.logger.Warn("run interrupted, using fallback",
		"execution_id", id,
		"step", step,
		"reason", reason,
	)
	return domain.TraceStep{
		Step:     step,
		Outcomes: []domain.StepOutcome{o.useFallback(storeCtx, id, step, ec.Snapshot(), sink, reason)},
	}
}

func (o *Orchestrator) useFallback(storeCtx context.Context, id uuid.UUID, step domain.StepName, sc domain.StepContext, sink Sink, reason string) domain.StepOutcome {
	result, description := o.fallbacks.For(step, sc)
	metrics.IncFallback(step, reason)
	metrics.IncStepOutcome(step, domain.OutcomeFallbackUsed)

	o.emit(storeCtx, sink, domain.Event{
		ExecutionID: id,
		Kind:        domain.EventFallbackTriggered,
		Step:        step,
		Detail:      map[string]any{"reason": reason, "message": description, "result": result},
	})

	out := domain.FallbackUsed(step, reason, result, o.now())
	out.Message = description
	return out
}

func (o *Orchestrator) fail(storeCtx context.Context, id uuid.UUID, sink Sink, tr domain.Trace, start time.Time, cause error) (domain.RunResult, error) {
	tr.EndedAt = o.now()
	duration := tr.EndedAt.Sub(start)

	o.logger.Error("execution failed",
		"execution_id", id,
		"error", cause,
	)

	if err := o.store.Finalize(storeCtx, id, domain.ExecutionFailed, domain.FinalizeParams{
		Trace:      tr,
		Error:      cause.Error(),
		DurationMs: duration.Milliseconds(),
	}); err != nil {
		o.logger.Error("finalize failed execution failed",
			"execution_id", id,
			"error", err,
		)
	}

	metrics.IncExecutionStatus(domain.ExecutionFailed)
	metrics.ObserveExecutionDuration(duration)

	o.emit(storeCtx, sink, domain.Event{
		ExecutionID: id,
		Kind:        domain.EventRunFailed,
		Detail:      map[string]any{"error": cause.Error()},
	})

	return domain.RunResult{
		ExecutionID: id,
		Status:      domain.ExecutionFailed,
		DurationMs:  duration.Milliseconds(),
		Trace:       tr,
		Proposal:    domain.Proposal{Reasons: []string{}, Citations: []domain.Citation{}},
		Error:       cause.Error(),
	}, cause
}

// emit persists the event when an event store is configured and forwards it
// to sink. Persistence errors are logged and never affect the run.
func (o *Orchestrator) emit(storeCtx context.Context, sink Sink, ev domain.Event) {
	ev.At = o.now()
	if o.events != nil && ev.ExecutionID != uuid.Nil {
		if err := o.events.AppendEvent(storeCtx, ev); err != nil {
			o.logger.Warn("append event failed",
				"execution_id", ev.ExecutionID,
				"event", ev.Kind,
				"error", err,
			)
		}
	}
	if sink != nil {
		sink.Emit(ev)
	}
}

type invocation struct {
	result domain.StepResult
	err    error
}

// invoke runs tool in its own goroutine so the deadline holds even when the
// tool ignores ctx. A late result is discarded.
func invoke(ctx context.Context, step domain.StepName, tool tools.Tool, sc domain.StepContext, timeout time.Duration) (domain.StepResult, error) {
	done := make(chan invocation, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invocation{err: fmt.Errorf("%s: %v", ReasonToolPanicked, r)}
			}
		}()
		res, err := tool.Execute(ctx, sc)
		done <- invocation{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if out.result == nil {
			return nil, errors.New(ReasonEmptyResult)
		}
		return out.result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s exceeded %s", domain.ErrToolTimeout, step, timeout)
	}
}

func classify(err error, stepCtx context.Context) (domain.ErrorKind, string, domain.EventKind) {
	if errors.Is(err, domain.ErrToolTimeout) || errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return domain.ErrorKindTimeout, ReasonTimeout, domain.EventStepTimedOut
	}
	return domain.ErrorKindToolFailure, ReasonToolFailure, domain.EventStepFailed
}

func wrapStore(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
