// SPDX-License-Identifier: Apache-2.0

package domain

type Action string

const (
	ActionFreezeCard      Action = "FREEZE_CARD"
	ActionUnfreezeCard    Action = "UNFREEZE_CARD"
	ActionOpenDispute     Action = "OPEN_DISPUTE"
	ActionContactCustomer Action = "CONTACT_CUSTOMER"
	ActionEscalateCase    Action = "ESCALATE_CASE"
	ActionExplainOnly     Action = "EXPLAIN_ONLY"
)

// RequiresOTP reports whether executing the action needs customer OTP confirmation.
func (a Action) RequiresOTP() bool {
	return a == ActionFreezeCard || a == ActionOpenDispute
}

// TransactionStatus is the status the suspect transaction moves to once the
// action is proposed.
func (a Action) TransactionStatus() string {
	switch a {
	case ActionFreezeCard:
		return "FROZEN"
	case ActionOpenDispute:
		return "DISPUTED"
	case ActionEscalateCase:
		return "ESCALATED"
	case ActionContactCustomer:
		return "UNDER_REVIEW"
	default:
		return "COMPLETED"
	}
}

// Decision is the output of the decide step.
type Decision struct {
	Action    Action    `json:"action"`
	Reasons   []string  `json:"reasons"`
	RiskLevel RiskLevel `json:"risk_level"`
}

func (Decision) Step() StepName { return StepDecide }

type Citation struct {
	Title  string `json:"title"`
	Anchor string `json:"anchor"`
}

// Proposal is the externally visible result of a run.
type Proposal struct {
	Action        Action     `json:"action,omitempty"`
	RiskLevel     RiskLevel  `json:"risk_level,omitempty"`
	Reasons       []string   `json:"reasons"`
	OTPRequired   bool       `json:"otp_required"`
	Citations     []Citation `json:"citations"`
	Message       string     `json:"message,omitempty"`
	CardID        string     `json:"card_id,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	ReasonCode    string     `json:"reason_code,omitempty"`
}

func (Proposal) Step() StepName { return StepProposeAction }

// IsZero reports whether no proposal was produced.
func (p Proposal) IsZero() bool {
	return p.Action == "" && len(p.Reasons) == 0 && len(p.Citations) == 0 && p.Message == ""
}
