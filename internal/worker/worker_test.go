// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/adiadia/triage-runtime/internal/domain"
	"github.com/adiadia/triage-runtime/internal/orchestrator"
)

type fakeQueue struct {
	claims        []domain.ClaimedExecution
	err           error
	reclaimBefore time.Time
}

func (f *fakeQueue) ClaimPending(ctx context.Context, reclaimBefore time.Time) (domain.ClaimedExecution, error) {
	f.reclaimBefore = reclaimBefore
	if f.err != nil {
		return domain.ClaimedExecution{}, f.err
	}
	if len(f.claims) == 0 {
		return domain.ClaimedExecution{}, pgx.ErrNoRows
	}
	c := f.claims[0]
	f.claims = f.claims[1:]
	return c, nil
}

type fakeRunner struct {
	result  domain.RunResult
	err     error
	ids     []uuid.UUID
	inputs  []domain.CaseInput
	ctxErrs []error
	before  func()
}

func (f *fakeRunner) Execute(ctx context.Context, id uuid.UUID, in domain.CaseInput, sink orchestrator.Sink) (domain.RunResult, error) {
	if f.before != nil {
		f.before()
	}
	f.ids = append(f.ids, id)
	f.inputs = append(f.inputs, in)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	res := f.result
	res.ExecutionID = id
	return res, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDefaults(t *testing.T) {
	w := New(Deps{})

	if w.logger == nil {
		t.Fatal("expected default logger to be set")
	}
	if w.reclaimAfter != 5*time.Minute {
		t.Fatalf("expected default reclaimAfter=5m, got %s", w.reclaimAfter)
	}
	if w.httpClient == nil || w.httpClient.Timeout != defaultWebhookTimeout {
		t.Fatalf("expected default webhook client, got %+v", w.httpClient)
	}
	if w.now == nil {
		t.Fatal("expected default clock")
	}
}

func TestNewCustomValues(t *testing.T) {
	logger := discardLogger()
	client := &http.Client{}

	w := New(Deps{
		Logger:        logger,
		ReclaimAfter:  30 * time.Second,
		HTTPClient:    client,
		WebhookSecret: "s3cret",
	})

	if w.logger != logger {
		t.Fatal("expected provided logger to be used")
	}
	if w.reclaimAfter != 30*time.Second {
		t.Fatalf("expected reclaimAfter=30s, got %s", w.reclaimAfter)
	}
	if w.httpClient != client {
		t.Fatal("expected provided http client to be used")
	}
	if w.webhookSecret != "s3cret" {
		t.Fatalf("expected webhook secret to be kept, got %q", w.webhookSecret)
	}
}

func TestProcessOnceEmptyQueue(t *testing.T) {
	runner := &fakeRunner{}
	w := New(Deps{Queue: &fakeQueue{}, Runner: runner, Logger: discardLogger()})

	claimed, err := w.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed {
		t.Fatal("expected nothing to be claimed")
	}
	if len(runner.ids) != 0 {
		t.Fatal("expected runner not to be called")
	}
}

func TestProcessOnceClaimError(t *testing.T) {
	wantErr := errors.New("connection reset")
	w := New(Deps{Queue: &fakeQueue{err: wantErr}, Runner: &fakeRunner{}, Logger: discardLogger()})

	if _, err := w.ProcessOnce(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected %v got %v", wantErr, err)
	}
}

func TestProcessOnceRunsClaimedExecution(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.New()
	queue := &fakeQueue{claims: []domain.ClaimedExecution{{
		ID:       id,
		Input:    domain.CaseInput{CustomerID: "cust_001", UserMessage: "card stolen"},
		Attempts: 1,
	}}}
	runner := &fakeRunner{result: domain.RunResult{
		Status:   domain.ExecutionCompleted,
		Proposal: domain.Proposal{Action: domain.ActionFreezeCard},
	}}

	w := New(Deps{
		Queue:        queue,
		Runner:       runner,
		Logger:       discardLogger(),
		ReclaimAfter: time.Minute,
		Now:          func() time.Time { return now },
	})

	claimed, err := w.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !claimed {
		t.Fatal("expected an execution to be claimed")
	}
	if len(runner.ids) != 1 || runner.ids[0] != id {
		t.Fatalf("expected runner to execute %s, got %v", id, runner.ids)
	}
	if runner.inputs[0].CustomerID != "cust_001" {
		t.Fatalf("unexpected input %+v", runner.inputs[0])
	}
	if !queue.reclaimBefore.Equal(now.Add(-time.Minute)) {
		t.Fatalf("expected reclaim cutoff %s got %s", now.Add(-time.Minute), queue.reclaimBefore)
	}
}

func TestProcessOnceDeliversWebhook(t *testing.T) {
	var calls int32
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return respond(http.StatusNoContent), nil
	})}

	queue := &fakeQueue{claims: []domain.ClaimedExecution{{
		ID:          uuid.New(),
		Input:       domain.CaseInput{CustomerID: "cust_001"},
		CallbackURL: "http://hooks.local/triage",
	}}}
	w := New(Deps{
		Queue:      queue,
		Runner:     &fakeRunner{result: domain.RunResult{Status: domain.ExecutionCompleted}},
		Logger:     discardLogger(),
		HTTPClient: client,
	})

	if _, err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one webhook call got %d", got)
	}
}

func TestProcessOnceFinishesClaimedRunAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var webhookCtxErr error
	var calls int32
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		webhookCtxErr = r.Context().Err()
		return respond(http.StatusOK), nil
	})}

	queue := &fakeQueue{claims: []domain.ClaimedExecution{{
		ID:          uuid.New(),
		Input:       domain.CaseInput{CustomerID: "cust_001"},
		CallbackURL: "http://hooks.local/triage",
	}}}
	// Shutdown lands while the claimed execution is running.
	runner := &fakeRunner{result: domain.RunResult{Status: domain.ExecutionCompleted}, before: cancel}
	w := New(Deps{
		Queue:      queue,
		Runner:     runner,
		Logger:     discardLogger(),
		HTTPClient: client,
	})

	claimed, err := w.ProcessOnce(ctx)
	if err != nil || !claimed {
		t.Fatalf("expected claimed run without error, got claimed=%v err=%v", claimed, err)
	}
	if ctx.Err() == nil {
		t.Fatal("expected worker context to be canceled")
	}
	if len(runner.ctxErrs) != 1 || runner.ctxErrs[0] != nil {
		t.Fatalf("expected run context to survive shutdown, got %v", runner.ctxErrs)
	}
	if got := atomic.LoadInt32(&calls); got != 1 || webhookCtxErr != nil {
		t.Fatalf("expected one live webhook call, got calls=%d ctx_err=%v", got, webhookCtxErr)
	}
}

func TestProcessOnceSurfacesStoreOutage(t *testing.T) {
	storeErr := fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, errors.New("connection refused"))
	queue := &fakeQueue{claims: []domain.ClaimedExecution{{ID: uuid.New(), Input: domain.CaseInput{CustomerID: "cust_001"}}}}
	w := New(Deps{
		Queue:  queue,
		Runner: &fakeRunner{result: domain.RunResult{Status: domain.ExecutionFailed}, err: storeErr},
		Logger: discardLogger(),
	})

	claimed, err := w.ProcessOnce(context.Background())
	if !claimed {
		t.Fatal("expected execution to be claimed")
	}
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable got %v", err)
	}
}

func TestProcessOnceSwallowsRecordedRunFailure(t *testing.T) {
	queue := &fakeQueue{claims: []domain.ClaimedExecution{{ID: uuid.New(), Input: domain.CaseInput{CustomerID: "cust_001"}}}}
	w := New(Deps{
		Queue:  queue,
		Runner: &fakeRunner{result: domain.RunResult{Status: domain.ExecutionFailed}, err: domain.ErrUnknownTool},
		Logger: discardLogger(),
	})

	if _, err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("expected recorded failure not to surface, got %v", err)
	}
}
