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

const chargebackWindow = 365 * 24 * time.Hour

type CustomerRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

func NewCustomerRepository(pool *pgxpool.Pool, logger *slog.Logger) *CustomerRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &CustomerRepository{
		pool:   pool,
		logger: logger,
		now:    time.Now,
	}
}

// GetProfile loads the customer with cards, devices and the number of
// chargebacks in the trailing year.
func (r *CustomerRepository) GetProfile(ctx context.Context, customerID string) (domain.Profile, error) {
	p := domain.Profile{
		CustomerID: customerID,
		RiskFlags:  []string{},
		Cards:      []domain.Card{},
		Devices:    []domain.Device{},
	}

	if err := r.pool.QueryRow(ctx, `
		SELECT name, email_masked, risk_flags
		FROM customers
		WHERE id=$1
	`, customerID).Scan(&p.Name, &p.EmailMasked, &p.RiskFlags); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, customerID)
		}
		r.logger.Error("get customer failed", "customer_id", customerID, "error", err)
		return domain.Profile{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, last4, status, network
		FROM cards
		WHERE customer_id=$1
		ORDER BY created_at ASC, id ASC
	`, customerID)
	if err != nil {
		r.logger.Error("list cards failed", "customer_id", customerID, "error", err)
		return domain.Profile{}, err
	}
	cards, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Card, error) {
		var c domain.Card
		err := row.Scan(&c.ID, &c.Last4, &c.Status, &c.Network)
		return c, err
	})
	if err != nil {
		r.logger.Error("scan cards failed", "customer_id", customerID, "error", err)
		return domain.Profile{}, err
	}
	p.Cards = append(p.Cards, cards...)

	rows, err = r.pool.Query(ctx, `
		SELECT id, device_type, is_trusted, last_seen
		FROM devices
		WHERE customer_id=$1
		ORDER BY last_seen DESC
	`, customerID)
	if err != nil {
		r.logger.Error("list devices failed", "customer_id", customerID, "error", err)
		return domain.Profile{}, err
	}
	devices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Device, error) {
		var d domain.Device
		err := row.Scan(&d.ID, &d.DeviceType, &d.IsTrusted, &d.LastSeen)
		return d, err
	})
	if err != nil {
		r.logger.Error("scan devices failed", "customer_id", customerID, "error", err)
		return domain.Profile{}, err
	}
	p.Devices = append(p.Devices, devices...)

	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM chargebacks
		WHERE customer_id=$1
		  AND created_at >= $2
	`, customerID, r.now().Add(-chargebackWindow)).Scan(&p.RecentChargebacks); err != nil {
		r.logger.Error("count chargebacks failed", "customer_id", customerID, "error", err)
		return domain.Profile{}, err
	}

	return p, nil
}
