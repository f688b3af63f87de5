// SPDX-License-Identifier: Apache-2.0

package fallback

import (
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/adiadia/triage-runtime/internal/domain"
)

func testContext() domain.StepContext {
	return domain.NewStepContext(uuid.New(), domain.CaseInput{CustomerID: "cust_001"}, nil)
}

func TestForEveryPlanStep(t *testing.T) {
	m := New()
	sc := testContext()

	for _, step := range domain.FraudTriagePlan() {
		result, reason := m.For(step, sc)
		if result == nil {
			t.Fatalf("expected result for %s", step)
		}
		if result.Step() != step {
			t.Fatalf("expected result for %s, got %s", step, result.Step())
		}
		if reason == "" {
			t.Fatalf("expected reason for %s", step)
		}
	}
}

func TestRiskFallbackIsMedium(t *testing.T) {
	result, reason := New().For(domain.StepRiskSignals, testContext())

	risk, ok := result.(domain.RiskAssessment)
	if !ok {
		t.Fatalf("expected RiskAssessment, got %T", result)
	}
	if risk.Level != domain.RiskMedium || risk.Score != 50 {
		t.Fatalf("unexpected risk fallback: %+v", risk)
	}
	if !risk.Has(domain.SignalRiskUnavailable) {
		t.Fatal("expected risk_unavailable signal")
	}
	if reason != "Risk service unavailable" {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestDecideAndProposeFallbacksContactCustomer(t *testing.T) {
	m := New()
	sc := testContext()

	decision, _ := m.For(domain.StepDecide, sc)
	if d := decision.(domain.Decision); d.Action != domain.ActionContactCustomer {
		t.Fatalf("expected CONTACT_CUSTOMER decision, got %s", d.Action)
	}

	proposal, _ := m.For(domain.StepProposeAction, sc)
	p := proposal.(domain.Proposal)
	if p.Action != domain.ActionContactCustomer || p.OTPRequired {
		t.Fatalf("unexpected proposal fallback: %+v", p)
	}
	if p.Message != ContactNotice {
		t.Fatalf("unexpected message %q", p.Message)
	}
}

func TestProfileFallbackKeepsCustomerID(t *testing.T) {
	result, _ := New().For(domain.StepGetProfile, testContext())
	if got := result.(domain.ProfileResult).Profile.CustomerID; got != "cust_001" {
		t.Fatalf("expected cust_001 got %q", got)
	}
}

func TestUnknownStepDoesNotFail(t *testing.T) {
	result, reason := New().For("summarize", testContext())

	nf, ok := result.(domain.NoFallback)
	if !ok {
		t.Fatalf("expected NoFallback, got %T", result)
	}
	if nf.Error != "No fallback available for summarize" || reason != nf.Error {
		t.Fatalf("unexpected no-fallback result: %+v reason=%q", nf, reason)
	}
}

func TestForIsIdempotent(t *testing.T) {
	m := New()
	sc := testContext()

	for _, step := range domain.FraudTriagePlan() {
		first, r1 := m.For(step, sc)
		second, r2 := m.For(step, sc)
		if !reflect.DeepEqual(first, second) || r1 != r2 {
			t.Fatalf("expected identical fallbacks for %s", step)
		}
	}
}
