// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/adiadia/triage-runtime/internal/domain"
)

// Signal weights, in evaluation order.
const (
	WeightCardLost          = 40
	WeightUnauthorized      = 35
	WeightDuplicate         = 5
	WeightHighVelocity      = 20
	WeightVeryHighAmount    = 25
	WeightHighAmount        = 15
	WeightDeviceChange      = 25
	WeightGeoAnomaly        = 20
	WeightMCCAnomaly        = 10
	WeightChargebackHistory = 30
)

const (
	HighLevelScore   = 70
	MediumLevelScore = 40

	velocityLimit       = 20
	highAmount          = 50_000
	veryHighAmount      = 100_000
	geoWindow           = 5
	mccWindow           = 10
	chargebackThreshold = 2
)

// RiskInput is what the scorer looks at.
type RiskInput struct {
	Message string
	Profile domain.Profile
	Recent  []domain.Transaction
	Suspect *domain.Transaction
}

// Classify maps a score to a level: >=70 high, >=40 medium, otherwise low.
func Classify(score int) domain.RiskLevel {
	switch {
	case score >= HighLevelScore:
		return domain.RiskHigh
	case score >= MediumLevelScore:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Assess runs every check in a fixed order and sums the weights of those
// that fire. A lost or stolen card report is always high risk regardless of
// the total.
func Assess(in RiskInput) domain.RiskAssessment {
	msg := strings.ToLower(in.Message)
	a := domain.RiskAssessment{Signals: []domain.Signal{}}

	add := func(kind domain.SignalKind, severity domain.RiskLevel, weight int, desc string) {
		a.Signals = append(a.Signals, domain.Signal{Kind: kind, Description: desc, Severity: severity})
		a.Score += weight
	}

	if containsAny(msg, "lost", "stolen") {
		add(domain.SignalCardLost, domain.RiskHigh, WeightCardLost, "Customer reports lost/stolen card")
	}
	if containsAny(msg, "unauthorized", "dispute", "don't recognize") {
		add(domain.SignalUnauthorized, domain.RiskHigh, WeightUnauthorized, "Customer reports unauthorized transaction")
	}
	if containsAny(msg, "duplicate", "charged twice") {
		add(domain.SignalDuplicate, domain.RiskLow, WeightDuplicate, "Customer reports duplicate charge")
	}
	if len(in.Recent) > velocityLimit {
		add(domain.SignalHighVelocity, domain.RiskMedium, WeightHighVelocity, "High transaction frequency")
	}

	if s := in.Suspect; s != nil {
		amount := s.Amount
		if amount < 0 {
			amount = -amount
		}
		if amount > highAmount {
			desc := fmt.Sprintf("High amount transaction: %.2f", float64(amount)/100)
			if amount > veryHighAmount {
				add(domain.SignalHighAmount, domain.RiskHigh, WeightVeryHighAmount, desc)
			} else {
				add(domain.SignalHighAmount, domain.RiskMedium, WeightHighAmount, desc)
			}
		}

		if s.DeviceID != "" && !in.Profile.DeviceTrusted(s.DeviceID) {
			add(domain.SignalDeviceChange, domain.RiskHigh, WeightDeviceChange, "Transaction from untrusted device")
		}

		if len(in.Recent) > 0 && !slices.ContainsFunc(head(in.Recent, geoWindow), func(t domain.Transaction) bool {
			return t.GeoCountry == s.GeoCountry
		}) {
			add(domain.SignalGeoAnomaly, domain.RiskMedium, WeightGeoAnomaly, "Transaction from new country: "+s.GeoCountry)
		}

		if !slices.ContainsFunc(head(in.Recent, mccWindow), func(t domain.Transaction) bool {
			return t.MCC == s.MCC
		}) {
			add(domain.SignalMCCAnomaly, domain.RiskLow, WeightMCCAnomaly, "Unusual merchant category: "+s.MCC)
		}
	}

	if n := in.Profile.RecentChargebacks; n > chargebackThreshold {
		add(domain.SignalChargebackHistory, domain.RiskHigh, WeightChargebackHistory, fmt.Sprintf("Multiple recent chargebacks: %d", n))
	}

	a.Level = Classify(a.Score)
	if a.Has(domain.SignalCardLost) {
		a.Level = domain.RiskHigh
	}
	return a
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func head(txns []domain.Transaction, n int) []domain.Transaction {
	if len(txns) > n {
		return txns[:n]
	}
	return txns
}

// RiskTool scores the case from the profile and transaction results.
type RiskTool struct{}

func (RiskTool) Execute(_ context.Context, sc domain.StepContext) (domain.StepResult, error) {
	profile, ok := sc.Profile()
	if !ok {
		return nil, domain.MissingDependency(domain.StepGetProfile)
	}
	txns, ok := sc.Transactions()
	if !ok {
		return nil, domain.MissingDependency(domain.StepGetRecentTransactions)
	}

	return Assess(RiskInput{
		Message: sc.Input.UserMessage,
		Profile: profile.Profile,
		Recent:  txns.Recent,
		Suspect: txns.Suspect,
	}), nil
}
