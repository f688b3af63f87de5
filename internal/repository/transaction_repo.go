// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/triage-runtime/internal/domain"
)

type TransactionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewTransactionRepository(pool *pgxpool.Pool, logger *slog.Logger) *TransactionRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &TransactionRepository{
		pool:   pool,
		logger: logger,
	}
}

const transactionColumns = `id, merchant, amount, mcc, ts, device_id, geo_country, status`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.Merchant, &t.Amount, &t.MCC, &t.Timestamp, &t.DeviceID, &t.GeoCountry, &t.Status)
	return t, err
}

// RecentTransactions returns up to limit transactions since the given time,
// newest first.
func (r *TransactionRepository) RecentTransactions(ctx context.Context, customerID string, since time.Time, limit int) ([]domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE customer_id=$1
		  AND ts >= $2
		  AND ts <= NOW()
		ORDER BY ts DESC
		LIMIT $3
	`, customerID, since, limit)
	if err != nil {
		r.logger.Error("recent transactions query failed", "customer_id", customerID, "error", err)
		return nil, err
	}

	txns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Transaction, error) {
		return scanTransaction(row)
	})
	if err != nil {
		r.logger.Error("scan transactions failed", "customer_id", customerID, "error", err)
		return nil, err
	}
	return txns, nil
}

// SuspectTransaction returns nil, nil when no such transaction belongs to
// the customer.
func (r *TransactionRepository) SuspectTransaction(ctx context.Context, customerID, transactionID string) (*domain.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id=$1
		  AND customer_id=$2
	`, transactionID, customerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("suspect transaction query failed",
			"customer_id", customerID,
			"transaction_id", transactionID,
			"error", err,
		)
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepository) UpdateStatus(ctx context.Context, transactionID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status=$2, updated_at=NOW()
		WHERE id=$1
	`, transactionID, status)
	if err != nil {
		r.logger.Error("update transaction status failed",
			"transaction_id", transactionID,
			"status", status,
			"error", err,
		)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", transactionID, pgx.ErrNoRows)
	}
	return nil
}
