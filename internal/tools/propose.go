// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"log/slog"

	"github.com/adiadia/triage-runtime/internal/domain"
)

// DisputeReasonCode is the network reason code for fraud, card absent.
const DisputeReasonCode = "10.4"

var actionMessages = map[domain.Action]string{
	domain.ActionFreezeCard:      "Card will be frozen to prevent unauthorized transactions",
	domain.ActionOpenDispute:     "Dispute will be opened for unauthorized transaction",
	domain.ActionContactCustomer: "Customer will be contacted for verification",
	domain.ActionEscalateCase:    "Case will be escalated for manual review",
	domain.ActionExplainOnly:     "Explanation will be provided to customer",
}

// Propose builds the final proposal from the decision and its supporting
// lookups.
func Propose(d domain.Decision, profile domain.Profile, suspect *domain.Transaction, kb domain.KBResult) domain.Proposal {
	p := domain.Proposal{
		Action:      d.Action,
		RiskLevel:   d.RiskLevel,
		Reasons:     append([]string{}, d.Reasons...),
		OTPRequired: d.Action.RequiresOTP(),
		Citations:   make([]domain.Citation, 0, len(kb.Results)),
		Message:     actionMessages[d.Action],
	}
	for _, hit := range kb.Results {
		p.Citations = append(p.Citations, domain.Citation{Title: hit.Title, Anchor: hit.Anchor})
	}

	switch d.Action {
	case domain.ActionFreezeCard:
		if len(profile.Cards) > 0 {
			p.CardID = profile.Cards[0].ID
		}
	case domain.ActionOpenDispute:
		if suspect != nil {
			p.TransactionID = suspect.ID
		}
		p.ReasonCode = DisputeReasonCode
	}
	return p
}

// ProposeTool builds the proposal and moves the suspect transaction to the
// status matching the action. A failed status update is logged only.
type ProposeTool struct {
	Status TransactionStatusUpdater
	Logger *slog.Logger
}

func (t *ProposeTool) Execute(ctx context.Context, sc domain.StepContext) (domain.StepResult, error) {
	decision, ok := sc.Decision()
	if !ok {
		return nil, domain.MissingDependency(domain.StepDecide)
	}
	profile, ok := sc.Profile()
	if !ok {
		return nil, domain.MissingDependency(domain.StepGetProfile)
	}
	txns, ok := sc.Transactions()
	if !ok {
		return nil, domain.MissingDependency(domain.StepGetRecentTransactions)
	}
	kb, ok := sc.KB()
	if !ok {
		return nil, domain.MissingDependency(domain.StepKBLookup)
	}

	proposal := Propose(decision, profile.Profile, txns.Suspect, kb)

	if txns.Suspect != nil && txns.Suspect.ID != "" && t.Status != nil {
		status := decision.Action.TransactionStatus()
		logger := t.Logger
		if logger == nil {
			logger = slog.Default()
		}
		if err := t.Status.UpdateStatus(ctx, txns.Suspect.ID, status); err != nil {
			logger.Error("failed to update transaction status",
				"execution_id", sc.ExecutionID,
				"transaction_id", txns.Suspect.ID,
				"status", status,
				"error", err,
			)
		} else {
			logger.Info("transaction status updated",
				"execution_id", sc.ExecutionID,
				"transaction_id", txns.Suspect.ID,
				"status", status,
			)
		}
	}

	return proposal, nil
}
