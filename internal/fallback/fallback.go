// SPDX-License-Identifier: Apache-2.0

package fallback

import (
	"fmt"

	"github.com/adiadia/triage-runtime/internal/domain"
)

const (
	GeneralDocID  = "fallback_001"
	GeneralTitle  = "General Information"
	GeneralAnchor = "kb_general"
	ContactNotice = "Please contact customer service for assistance."
	ManualReview  = "Service unavailable, manual review required"
)

// Manager returns static degraded results for steps that could not run.
// It holds no state; For is safe for concurrent use and never fails.
type Manager struct{}

func New() *Manager { return &Manager{} }

// For returns the substitute result for step and a short description of
// what was unavailable. Unknown steps get a domain.NoFallback result.
func (m *Manager) For(step domain.StepName, sc domain.StepContext) (domain.StepResult, string) {
	switch step {
	case domain.StepGetProfile:
		return domain.ProfileResult{Profile: domain.Profile{
			CustomerID:  sc.Input.CustomerID,
			Name:        "Customer",
			EmailMasked: "***@***.***",
			RiskFlags:   []string{},
			Cards:       []domain.Card{},
			Devices:     []domain.Device{},
		}}, "Profile service unavailable"

	case domain.StepGetRecentTransactions:
		return domain.TransactionsResult{Recent: []domain.Transaction{}}, "Transaction service unavailable"

	case domain.StepRiskSignals:
		return domain.RiskAssessment{
			Signals: []domain.Signal{{
				Kind:        domain.SignalRiskUnavailable,
				Description: "Risk assessment service unavailable",
				Severity:    domain.RiskMedium,
			}},
			Score: 50,
			Level: domain.RiskMedium,
		}, "Risk service unavailable"

	case domain.StepKBLookup:
		return domain.KBResult{
			Results: []domain.KBHit{{
				DocID:   GeneralDocID,
				Title:   GeneralTitle,
				Anchor:  GeneralAnchor,
				Extract: ContactNotice,
			}},
			SearchTerms: []string{},
		}, "Knowledge base unavailable"

	case domain.StepDecide:
		return domain.Decision{
			Action:    domain.ActionContactCustomer,
			Reasons:   []string{ManualReview},
			RiskLevel: domain.RiskMedium,
		}, "Decision service unavailable"

	case domain.StepProposeAction:
		return domain.Proposal{
			Action:      domain.ActionContactCustomer,
			RiskLevel:   domain.RiskMedium,
			Reasons:     []string{ManualReview},
			OTPRequired: false,
			Citations:   []domain.Citation{},
			Message:     ContactNotice,
		}, "Action service unavailable"

	default:
		msg := fmt.Sprintf("No fallback available for %s", step)
		return domain.NoFallback{For: step, Error: msg}, msg
	}
}
