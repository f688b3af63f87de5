// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/triage-runtime/internal/domain"
)

// Tool runs one plan step. The deadline is carried by ctx.
type Tool interface {
	Execute(ctx context.Context, sc domain.StepContext) (domain.StepResult, error)
}

// Func adapts a plain function to Tool.
type Func func(ctx context.Context, sc domain.StepContext) (domain.StepResult, error)

func (f Func) Execute(ctx context.Context, sc domain.StepContext) (domain.StepResult, error) {
	return f(ctx, sc)
}

type ProfileSource interface {
	GetProfile(ctx context.Context, customerID string) (domain.Profile, error)
}

type TransactionSource interface {
	RecentTransactions(ctx context.Context, customerID string, since time.Time, limit int) ([]domain.Transaction, error)
	// SuspectTransaction returns nil, nil when the transaction does not
	// belong to the customer.
	SuspectTransaction(ctx context.Context, customerID, transactionID string) (*domain.Transaction, error)
}

type KBSearcher interface {
	Search(ctx context.Context, term string, limit int) ([]domain.KBDocument, error)
}

type TransactionStatusUpdater interface {
	UpdateStatus(ctx context.Context, transactionID, status string) error
}

// Sources are the collaborators the data-backed tools read from.
type Sources struct {
	Profiles     ProfileSource
	Transactions TransactionSource
	KB           KBSearcher
	Status       TransactionStatusUpdater
	Logger       *slog.Logger
	Now          func() time.Time
}

// Toolset binds one Tool to each pipeline step.
type Toolset struct {
	Profile      Tool
	Transactions Tool
	Risk         Tool
	KB           Tool
	Decide       Tool
	Propose      Tool
}

// NewToolset wires the six fraud-triage tools to src.
func NewToolset(src Sources) Toolset {
	logger := src.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := src.Now
	if now == nil {
		now = time.Now
	}

	return Toolset{
		Profile:      &ProfileTool{Source: src.Profiles},
		Transactions: &TransactionsTool{Source: src.Transactions, Now: now},
		Risk:         RiskTool{},
		KB:           &KBTool{Searcher: src.KB},
		Decide:       DecideTool{},
		Propose:      &ProposeTool{Status: src.Status, Logger: logger},
	}
}

// Resolve returns the tool bound to step.
func (ts Toolset) Resolve(step domain.StepName) (Tool, error) {
	var t Tool
	switch step {
	case domain.StepGetProfile:
		t = ts.Profile
	case domain.StepGetRecentTransactions:
		t = ts.Transactions
	case domain.StepRiskSignals:
		t = ts.Risk
	case domain.StepKBLookup:
		t = ts.KB
	case domain.StepDecide:
		t = ts.Decide
	case domain.StepProposeAction:
		t = ts.Propose
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTool, step)
	}
	return t, nil
}

// Check validates plan and confirms every step resolves to a tool.
func (ts Toolset) Check(plan domain.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	for _, step := range plan {
		if _, err := ts.Resolve(step); err != nil {
			return err
		}
	}
	return nil
}
