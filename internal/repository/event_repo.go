// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/triage-runtime/internal/domain"
)

type EventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEventRepository(pool *pgxpool.Pool, logger *slog.Logger) *EventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *EventRepository) AppendEvent(ctx context.Context, ev domain.Event) error {
	var payload []byte
	if ev.Detail != nil {
		var err error
		if payload, err = json.Marshal(ev.Detail); err != nil {
			return fmt.Errorf("marshal event detail: %w", err)
		}
	}

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO events (id, execution_id, type, step, payload, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`,
		uuid.New(),
		ev.ExecutionID,
		string(ev.Kind),
		string(ev.Step),
		payload,
		ev.At,
	); err != nil {
		r.logger.Error("insert event failed",
			"execution_id", ev.ExecutionID,
			"event", ev.Kind,
			"error", err,
		)
		return err
	}

	return nil
}

func (r *EventRepository) ListEventsAfter(ctx context.Context, executionID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, seq, execution_id, type, step, payload, created_at
		FROM events
		WHERE execution_id=$1
		  AND seq > $2
		ORDER BY seq ASC
	`,
		executionID,
		afterSeq,
	)
	if err != nil {
		r.logger.Error("list events query failed",
			"execution_id", executionID,
			"error", err,
		)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EventRecord, 0, 8)
	for rows.Next() {
		var ev domain.EventRecord
		if err := rows.Scan(
			&ev.ID,
			&ev.Seq,
			&ev.ExecutionID,
			&ev.Type,
			&ev.Step,
			&ev.Payload,
			&ev.CreatedAt,
		); err != nil {
			r.logger.Error("scan event row failed",
				"execution_id", executionID,
				"error", err,
			)
			return nil, err
		}
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("events rows iteration failed",
			"execution_id", executionID,
			"error", err,
		)
		return nil, err
	}

	return out, nil
}

func (r *EventRepository) ResolveCursorByEventID(ctx context.Context, executionID uuid.UUID, eventID uuid.UUID) (int64, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `
		SELECT seq
		FROM events
		WHERE id=$1
		  AND execution_id=$2
	`,
		eventID,
		executionID,
	).Scan(&seq); err != nil {
		r.logger.Error("resolve event cursor failed",
			"execution_id", executionID,
			"event_id", eventID,
			"error", err,
		)
		return 0, err
	}

	return seq, nil
}
