// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/triage-runtime/internal/domain"
)

type ExecutionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewExecutionRepository(pool *pgxpool.Pool, logger *slog.Logger) *ExecutionRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &ExecutionRepository{
		pool:   pool,
		logger: logger,
	}
}

// CreateExecution inserts a RUNNING execution for a synchronous run.
func (r *ExecutionRepository) CreateExecution(ctx context.Context, in domain.CaseInput, executionType string, plan []string) (uuid.UUID, error) {
	return r.insert(ctx, in, executionType, plan, domain.ExecutionRunning, "")
}

// Enqueue inserts a PENDING execution for the worker to claim.
func (r *ExecutionRepository) Enqueue(ctx context.Context, in domain.CaseInput, callbackURL string) (uuid.UUID, error) {
	return r.insert(ctx, in, domain.ExecutionTypeFraudTriage, domain.FraudTriagePlan().Strings(), domain.ExecutionPending, callbackURL)
}

func (r *ExecutionRepository) insert(
	ctx context.Context,
	in domain.CaseInput,
	executionType string,
	plan []string,
	status domain.ExecutionStatus,
	callbackURL string,
) (uuid.UUID, error) {
	id := uuid.New()

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return uuid.Nil, err
	}

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO executions (
			id, customer_id, suspect_txn_id, user_message,
			execution_type, status, plan, callback_url
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
	`,
		id,
		in.CustomerID,
		in.SuspectTransactionID,
		in.UserMessage,
		executionType,
		status,
		planJSON,
		callbackURL,
	); err != nil {
		r.logger.Error("insert execution failed",
			"execution_id", id,
			"status", status,
			"error", err,
		)
		return uuid.Nil, err
	}

	r.logger.Info("execution created", "execution_id", id, "status", status)
	return id, nil
}

// ClaimPending claims the oldest PENDING execution, or a RUNNING one whose
// claim is older than reclaimBefore. It returns pgx.ErrNoRows when the queue
// is empty.
func (r *ExecutionRepository) ClaimPending(ctx context.Context, reclaimBefore time.Time) (domain.ClaimedExecution, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.ClaimedExecution{}, err
	}
	defer tx.Rollback(ctx)

	var (
		c      domain.ClaimedExecution
		status domain.ExecutionStatus
	)

	err = tx.QueryRow(ctx, `
		SELECT id, customer_id, suspect_txn_id, user_message, callback_url, attempts, status
		FROM executions
		WHERE status = $1
		   OR (status = $2 AND claimed_at IS NOT NULL AND claimed_at < $3)
		ORDER BY started_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`,
		domain.ExecutionPending,
		domain.ExecutionRunning,
		reclaimBefore,
	).Scan(
		&c.ID,
		&c.Input.CustomerID,
		&c.Input.SuspectTransactionID,
		&c.Input.UserMessage,
		&c.CallbackURL,
		&c.Attempts,
		&status,
	)
	if err != nil {
		return domain.ClaimedExecution{}, err
	}

	// A reclaimed run starts over; its partial trace is discarded.
	if status == domain.ExecutionRunning {
		c.Reclaimed = true
		if _, err := tx.Exec(ctx, `DELETE FROM execution_steps WHERE execution_id=$1`, c.ID); err != nil {
			return domain.ClaimedExecution{}, err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE executions
		SET status=$2,
		    claimed_at=NOW(),
		    attempts=attempts + 1
		WHERE id=$1
	`,
		c.ID,
		domain.ExecutionRunning,
	); err != nil {
		return domain.ClaimedExecution{}, err
	}
	c.Attempts++

	return c, tx.Commit(ctx)
}

// AppendTrace stores the trace entry of one plan step.
func (r *ExecutionRepository) AppendTrace(ctx context.Context, id uuid.UUID, seq int, entry domain.TraceStep) error {
	outcomes, err := json.Marshal(entry.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO execution_steps (execution_id, seq, step, final_kind, outcomes)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (execution_id, seq) DO UPDATE
		SET step=EXCLUDED.step,
		    final_kind=EXCLUDED.final_kind,
		    outcomes=EXCLUDED.outcomes
	`,
		id,
		seq,
		entry.Step,
		entry.Final().Kind,
		outcomes,
	); err != nil {
		r.logger.Error("append trace failed",
			"execution_id", id,
			"step", entry.Step,
			"error", err,
		)
		return err
	}

	return nil
}

// Finalize moves a non-terminal execution to status and stores the trace
// and result.
func (r *ExecutionRepository) Finalize(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, p domain.FinalizeParams) error {
	traceJSON, err := json.Marshal(p.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	var resultJSON []byte
	if p.Result != nil {
		if resultJSON, err = json.Marshal(p.Result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE executions
		SET status=$2,
		    trace=$3::jsonb,
		    result=$4::jsonb,
		    error=$5,
		    duration_ms=$6,
		    completed_at=NOW()
		WHERE id=$1
		  AND status NOT IN ($7, $8)
	`,
		id,
		status,
		traceJSON,
		resultJSON,
		p.Error,
		p.DurationMs,
		domain.ExecutionCompleted,
		domain.ExecutionFailed,
	)
	if err != nil {
		r.logger.Error("finalize execution failed",
			"execution_id", id,
			"status", status,
			"error", err,
		)
		return err
	}

	if tag.RowsAffected() == 0 {
		r.logger.Warn("finalize skipped (missing or terminal)",
			"execution_id", id,
			"status", status,
		)
		return nil
	}

	r.logger.Info("execution finalized",
		"execution_id", id,
		"status", status,
		"duration_ms", p.DurationMs,
	)
	return nil
}

func (r *ExecutionRepository) GetExecution(ctx context.Context, id uuid.UUID) (domain.ExecutionRecord, error) {
	var (
		rec      domain.ExecutionRecord
		planJSON []byte
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_id, suspect_txn_id, user_message, execution_type, status,
		       plan, trace, result, error, started_at, completed_at, duration_ms
		FROM executions
		WHERE id=$1
	`, id).Scan(
		&rec.ID,
		&rec.CustomerID,
		&rec.SuspectTransactionID,
		&rec.UserMessage,
		&rec.ExecutionType,
		&rec.Status,
		&planJSON,
		&rec.Trace,
		&rec.Result,
		&rec.Error,
		&rec.StartedAt,
		&rec.CompletedAt,
		&rec.DurationMs,
	)
	if err != nil {
		r.logger.Error("get execution failed", "execution_id", id, "error", err)
		return domain.ExecutionRecord{}, err
	}

	if len(planJSON) > 0 {
		if err := json.Unmarshal(planJSON, &rec.Plan); err != nil {
			return domain.ExecutionRecord{}, fmt.Errorf("decode plan: %w", err)
		}
	}

	return rec, nil
}
