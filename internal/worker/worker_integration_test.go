//go:build integration

// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/triage-runtime/internal/breaker"
	"github.com/adiadia/triage-runtime/internal/domain"
	"github.com/adiadia/triage-runtime/internal/fallback"
	"github.com/adiadia/triage-runtime/internal/orchestrator"
	"github.com/adiadia/triage-runtime/internal/repository"
	"github.com/adiadia/triage-runtime/internal/tools"
)

func TestWorkerProcessesQueuedExecution(t *testing.T) {
	ctx := context.Background()
	pool := workerIntegrationPool(t, ctx)
	defer pool.Close()

	if err := workerTruncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}
	if err := workerSeedCustomer(ctx, pool); err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	execRepo := repository.NewExecutionRepository(pool, logger)
	txnRepo := repository.NewTransactionRepository(pool, logger)

	toolset := tools.NewToolset(tools.Sources{
		Profiles:     repository.NewCustomerRepository(pool, logger),
		Transactions: txnRepo,
		KB:           repository.NewKBRepository(pool, logger),
		Status:       txnRepo,
		Logger:       logger,
	})
	orch, err := orchestrator.New(orchestrator.Deps{
		Store:     execRepo,
		Events:    repository.NewEventRepository(pool, logger),
		Tools:     toolset,
		Breaker:   breaker.New(),
		Fallbacks: fallback.New(),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	hooks := make(chan terminalWebhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p terminalWebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			hooks <- p
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	id, err := execRepo.Enqueue(ctx, domain.CaseInput{
		CustomerID:  "cust_wk",
		UserMessage: "I don't recognise this charge, my card was stolen",
	}, srv.URL)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := New(Deps{
		Queue:  execRepo,
		Runner: orch,
		Logger: logger,
	})

	claimed, err := w.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if !claimed {
		t.Fatal("expected queued execution to be claimed")
	}

	rec, err := execRepo.GetExecution(ctx, id)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if rec.Status != domain.ExecutionCompleted {
		t.Fatalf("expected status %s got %s", domain.ExecutionCompleted, rec.Status)
	}
	var tr struct {
		Steps []struct {
			Step domain.StepName `json:"step"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(rec.Trace, &tr); err != nil {
		t.Fatalf("decode trace: %v", err)
	}
	if len(tr.Steps) != len(domain.FraudTriagePlan()) {
		t.Fatalf("expected %d trace steps got %d", len(domain.FraudTriagePlan()), len(tr.Steps))
	}

	select {
	case p := <-hooks:
		if p.ExecutionID != id {
			t.Fatalf("expected webhook for %s got %s", id, p.ExecutionID)
		}
		if p.Status != domain.ExecutionCompleted {
			t.Fatalf("expected webhook status %s got %s", domain.ExecutionCompleted, p.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected terminal webhook")
	}

	claimed, err = w.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("process once on empty queue: %v", err)
	}
	if claimed {
		t.Fatal("expected empty queue after processing")
	}
}

func workerSeedCustomer(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO customers (id, name, email_masked, risk_flags)
		VALUES ('cust_wk', 'Worker', 'w***@example.com', '[]'::jsonb);

		INSERT INTO cards (id, customer_id, last4, status, network)
		VALUES ('card_wk', 'cust_wk', '1111', 'ACTIVE', 'VISA');

		INSERT INTO transactions (id, customer_id, card_id, merchant, amount, mcc, device_id, geo_country, ts)
		VALUES ('txn_wk', 'cust_wk', 'card_wk', 'Electronics Hub', 250000, '5732', '', 'IN', NOW() - INTERVAL '2 hours');
	`)
	return err
}

func workerTruncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE TABLE events, execution_steps, executions, chargebacks, transactions, devices, cards, customers RESTART IDENTITY CASCADE`)
	return err
}

func workerIntegrationPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		t.Skipf("skip integration test: cannot create pgx pool (%v)", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: cannot reach database (%v)", err)
	}

	return pool
}
