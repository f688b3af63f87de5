// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"strings"

	"github.com/adiadia/triage-runtime/internal/domain"
)

// Decide applies the decision table. The first matching row wins and each
// row yields exactly one reason.
func Decide(risk domain.RiskAssessment, message string) domain.Decision {
	disputeIntent := strings.Contains(strings.ToLower(message), "dispute")

	d := domain.Decision{RiskLevel: risk.Level}
	set := func(action domain.Action, reason string) {
		d.Action = action
		d.Reasons = []string{reason}
	}

	switch risk.Level {
	case domain.RiskHigh:
		switch {
		case risk.Has(domain.SignalChargebackHistory):
			set(domain.ActionEscalateCase, "Multiple chargeback history requires escalation")
		case risk.Has(domain.SignalCardLost):
			set(domain.ActionFreezeCard, "Card reported lost/stolen")
		case risk.Has(domain.SignalUnauthorized):
			set(domain.ActionOpenDispute, "Unauthorized transaction reported")
		case risk.Has(domain.SignalDeviceChange):
			set(domain.ActionFreezeCard, "Untrusted device detected")
		default:
			set(domain.ActionFreezeCard, "High risk score detected")
		}

	case domain.RiskMedium:
		if disputeIntent {
			set(domain.ActionOpenDispute, "Customer requested dispute")
		} else {
			set(domain.ActionContactCustomer, "Medium risk requires customer verification")
		}

	case domain.RiskLow:
		switch {
		case risk.Has(domain.SignalDuplicate):
			set(domain.ActionExplainOnly, "Duplicate transaction explanation needed")
		case disputeIntent:
			set(domain.ActionOpenDispute, "Customer requested dispute")
		default:
			set(domain.ActionExplainOnly, "Low risk, provide explanation")
		}

	default:
		set(domain.ActionContactCustomer, "Unrecognized risk level requires customer verification")
	}

	return d
}

type DecideTool struct{}

func (DecideTool) Execute(_ context.Context, sc domain.StepContext) (domain.StepResult, error) {
	risk, ok := sc.Risk()
	if !ok {
		return nil, domain.MissingDependency(domain.StepRiskSignals)
	}
	return Decide(risk, sc.Input.UserMessage), nil
}
