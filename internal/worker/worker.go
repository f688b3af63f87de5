// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/adiadia/triage-runtime/internal/domain"
	"github.com/adiadia/triage-runtime/internal/metrics"
	"github.com/adiadia/triage-runtime/internal/orchestrator"
)

const (
	defaultReclaimAfter   = 5 * time.Minute
	defaultWebhookTimeout = 10 * time.Second
)

// Queue hands out queued executions. ClaimPending returns pgx.ErrNoRows
// when nothing is runnable.
type Queue interface {
	ClaimPending(ctx context.Context, reclaimBefore time.Time) (domain.ClaimedExecution, error)
}

type Runner interface {
	Execute(ctx context.Context, id uuid.UUID, in domain.CaseInput, sink orchestrator.Sink) (domain.RunResult, error)
}

type Deps struct {
	Queue         Queue
	Runner        Runner
	Logger        *slog.Logger
	ReclaimAfter  time.Duration
	HTTPClient    *http.Client
	WebhookSecret string
	Now           func() time.Time
}

type Worker struct {
	queue         Queue
	runner        Runner
	logger        *slog.Logger
	reclaimAfter  time.Duration
	httpClient    *http.Client
	webhookSecret string
	now           func() time.Time
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	reclaim := deps.ReclaimAfter
	if reclaim <= 0 {
		reclaim = defaultReclaimAfter
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Worker{
		queue:         deps.Queue,
		runner:        deps.Runner,
		logger:        l,
		reclaimAfter:  reclaim,
		httpClient:    client,
		webhookSecret: deps.WebhookSecret,
		now:           now,
	}
}

// ProcessOnce claims and runs at most one execution. It reports whether an
// execution was claimed so callers can drain the queue before sleeping.
func (w *Worker) ProcessOnce(ctx context.Context) (bool, error) {
	claimStart := time.Now()
	claimed, err := w.queue.ClaimPending(ctx, w.now().Add(-w.reclaimAfter))
	metrics.ObserveWorkerClaimLatency(time.Since(claimStart))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		w.logger.Error("claim execution failed", "error", err)
		return false, err
	}

	w.logger.Info("execution claimed",
		"execution_id", claimed.ID,
		"customer_id", claimed.Input.CustomerID,
		"attempt", claimed.Attempts,
		"reclaimed", claimed.Reclaimed,
	)

	// Shutdown stops new claims only. A claimed run finishes and reports its
	// webhook instead of being abandoned into fallbacks.
	runCtx := context.WithoutCancel(ctx)

	res, runErr := w.runner.Execute(runCtx, claimed.ID, claimed.Input, orchestrator.NopSink)
	if runErr != nil {
		w.logger.Error("execution failed",
			"execution_id", claimed.ID,
			"error", runErr,
		)
	} else {
		w.logger.Info("execution processed",
			"execution_id", claimed.ID,
			"action", res.Proposal.Action,
			"duration_ms", res.DurationMs,
		)
	}

	if res.Status.Terminal() {
		w.deliverTerminalWebhook(runCtx, claimed.ID, res, w.now(), claimed.CallbackURL)
	}

	// A store outage is worth surfacing to the loop; other run failures are
	// already recorded on the execution.
	if errors.Is(runErr, domain.ErrStoreUnavailable) {
		return true, runErr
	}
	return true, nil
}
