// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adiadia/triage-runtime/internal/domain"
)

const (
	RecentWindow = 30 * 24 * time.Hour
	RecentLimit  = 50
)

type ProfileTool struct {
	Source ProfileSource
}

func (t *ProfileTool) Execute(ctx context.Context, sc domain.StepContext) (domain.StepResult, error) {
	if t.Source == nil {
		return nil, errors.New("profile source not configured")
	}
	p, err := t.Source.GetProfile(ctx, sc.Input.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", sc.Input.CustomerID, err)
	}
	return domain.ProfileResult{Profile: p}, nil
}

type TransactionsTool struct {
	Source TransactionSource
	Now    func() time.Time
}

func (t *TransactionsTool) Execute(ctx context.Context, sc domain.StepContext) (domain.StepResult, error) {
	if t.Source == nil {
		return nil, errors.New("transaction source not configured")
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}

	recent, err := t.Source.RecentTransactions(ctx, sc.Input.CustomerID, now().Add(-RecentWindow), RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent transactions %s: %w", sc.Input.CustomerID, err)
	}
	if recent == nil {
		recent = []domain.Transaction{}
	}

	res := domain.TransactionsResult{Recent: recent, Count: len(recent)}
	if sc.Input.SuspectTransactionID != "" {
		suspect, err := t.Source.SuspectTransaction(ctx, sc.Input.CustomerID, sc.Input.SuspectTransactionID)
		if err != nil {
			return nil, fmt.Errorf("suspect transaction %s: %w", sc.Input.SuspectTransactionID, err)
		}
		res.Suspect = suspect
	}
	return res, nil
}
