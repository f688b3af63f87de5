// SPDX-License-Identifier: Apache-2.0

package domain

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type SignalKind string

const (
	SignalCardLost          SignalKind = "card_lost"
	SignalUnauthorized      SignalKind = "unauthorized_transaction"
	SignalDuplicate         SignalKind = "duplicate_transaction"
	SignalHighVelocity      SignalKind = "high_velocity"
	SignalHighAmount        SignalKind = "high_amount"
	SignalDeviceChange      SignalKind = "device_change"
	SignalGeoAnomaly        SignalKind = "geo_anomaly"
	SignalMCCAnomaly        SignalKind = "mcc_anomaly"
	SignalChargebackHistory SignalKind = "chargeback_history"
	SignalRiskUnavailable   SignalKind = "risk_unavailable"
)

type Signal struct {
	Kind        SignalKind `json:"signal"`
	Description string     `json:"description"`
	Severity    RiskLevel  `json:"risk_level"`
}

// RiskAssessment is the output of the riskSignals step.
type RiskAssessment struct {
	Signals []Signal  `json:"risk_signals"`
	Score   int       `json:"risk_score"`
	Level   RiskLevel `json:"risk_level"`
}

func (RiskAssessment) Step() StepName { return StepRiskSignals }

func (r RiskAssessment) Has(kind SignalKind) bool {
	for _, s := range r.Signals {
		if s.Kind == kind {
			return true
		}
	}
	return false
}
