// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/triage-runtime/internal/domain"
)

type StepRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStepRepository(pool *pgxpool.Pool, logger *slog.Logger) *StepRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &StepRepository{
		pool:   pool,
		logger: logger,
	}
}

// ListSteps returns the persisted trace entries of an execution in plan
// order. It returns pgx.ErrNoRows when the execution does not exist.
func (s *StepRepository) ListSteps(ctx context.Context, executionID uuid.UUID) ([]domain.StepRecord, error) {
	var exists int
	if err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM executions WHERE id=$1`,
		executionID,
	).Scan(&exists); err != nil {
		s.logger.Error("execution lookup failed",
			"execution_id", executionID,
			"error", err,
		)
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT seq, step, final_kind, outcomes, created_at
		FROM execution_steps
		WHERE execution_id=$1
		ORDER BY seq ASC
	`, executionID)
	if err != nil {
		s.logger.Error("list steps query failed",
			"execution_id", executionID,
			"error", err,
		)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StepRecord, 0, 6)

	for rows.Next() {
		var st domain.StepRecord
		if err := rows.Scan(&st.Seq, &st.Step, &st.FinalKind, &st.Outcomes, &st.CreatedAt); err != nil {
			s.logger.Error("scan step row failed",
				"execution_id", executionID,
				"error", err,
			)
			return nil, err
		}
		out = append(out, st)
	}

	if err := rows.Err(); err != nil {
		s.logger.Error("rows iteration failed",
			"execution_id", executionID,
			"error", err,
		)
		return nil, err
	}

	s.logger.Debug("steps fetched",
		"execution_id", executionID,
		"count", len(out),
	)

	return out, nil
}
