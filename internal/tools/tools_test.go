// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/adiadia/triage-runtime/internal/domain"
)

type fakeProfiles struct {
	profile domain.Profile
	err     error
}

func (f *fakeProfiles) GetProfile(_ context.Context, customerID string) (domain.Profile, error) {
	if f.err != nil {
		return domain.Profile{}, f.err
	}
	p := f.profile
	p.CustomerID = customerID
	return p, nil
}

type fakeTransactions struct {
	recent    []domain.Transaction
	suspect   *domain.Transaction
	gotSince  time.Time
	gotLimit  int
	suspectID string
}

func (f *fakeTransactions) RecentTransactions(_ context.Context, _ string, since time.Time, limit int) ([]domain.Transaction, error) {
	f.gotSince = since
	f.gotLimit = limit
	return f.recent, nil
}

func (f *fakeTransactions) SuspectTransaction(_ context.Context, _ string, id string) (*domain.Transaction, error) {
	f.suspectID = id
	return f.suspect, nil
}

type fakeKB struct {
	docs  map[string][]domain.KBDocument
	terms []string
}

func (f *fakeKB) Search(_ context.Context, term string, limit int) ([]domain.KBDocument, error) {
	f.terms = append(f.terms, term)
	docs := f.docs[term]
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

type fakeStatus struct {
	calls map[string]string
	err   error
}

func (f *fakeStatus) UpdateStatus(_ context.Context, id, status string) error {
	if f.calls == nil {
		f.calls = map[string]string{}
	}
	f.calls[id] = status
	return f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stepContext(input domain.CaseInput, results ...domain.StepResult) domain.StepContext {
	m := make(map[string]domain.StepResult, len(results))
	for _, r := range results {
		m[domain.ResultKey(r.Step())] = r
	}
	return domain.NewStepContext(uuid.New(), input, m)
}

func TestClassifyThresholds(t *testing.T) {
	cases := map[int]domain.RiskLevel{
		0:   domain.RiskLow,
		39:  domain.RiskLow,
		40:  domain.RiskMedium,
		69:  domain.RiskMedium,
		70:  domain.RiskHigh,
		200: domain.RiskHigh,
	}
	for score, want := range cases {
		if got := Classify(score); got != want {
			t.Fatalf("Classify(%d) = %s, want %s", score, got, want)
		}
	}
}

func TestAssessCardStolen(t *testing.T) {
	a := Assess(RiskInput{Message: "My card was stolen"})

	if a.Score != 40 {
		t.Fatalf("expected score 40 got %d", a.Score)
	}
	if a.Level != domain.RiskHigh {
		t.Fatalf("expected high level got %s", a.Level)
	}
	if len(a.Signals) != 1 || a.Signals[0].Kind != domain.SignalCardLost {
		t.Fatalf("expected only card_lost signal, got %+v", a.Signals)
	}

	d := Decide(a, "My card was stolen")
	if d.Action != domain.ActionFreezeCard {
		t.Fatalf("expected FREEZE_CARD got %s", d.Action)
	}
	p := Propose(d, domain.Profile{Cards: []domain.Card{{ID: "card_001"}}}, nil, domain.KBResult{})
	if !p.OTPRequired || p.CardID != "card_001" {
		t.Fatalf("unexpected proposal: %+v", p)
	}
}

func TestAssessHighAmountUntrustedDeviceNewCountry(t *testing.T) {
	profile := domain.Profile{Devices: []domain.Device{{ID: "dev_home", IsTrusted: true}}}
	recent := []domain.Transaction{
		{ID: "txn_1", GeoCountry: "IN", MCC: "5411"},
		{ID: "txn_2", GeoCountry: "IN", MCC: "5812"},
	}
	suspect := &domain.Transaction{ID: "txn_x", Amount: 120_000, DeviceID: "dev_unknown", GeoCountry: "AE", MCC: "5411"}

	a := Assess(RiskInput{Profile: profile, Recent: recent, Suspect: suspect})

	if a.Score != 70 {
		t.Fatalf("expected score 70 got %d (%+v)", a.Score, a.Signals)
	}
	if a.Level != domain.RiskHigh {
		t.Fatalf("expected high got %s", a.Level)
	}
	var kinds []domain.SignalKind
	for _, s := range a.Signals {
		kinds = append(kinds, s.Kind)
	}
	want := []domain.SignalKind{domain.SignalHighAmount, domain.SignalDeviceChange, domain.SignalGeoAnomaly}
	if !slices.Equal(kinds, want) {
		t.Fatalf("expected %v got %v", want, kinds)
	}

	d := Decide(a, "")
	if d.Action != domain.ActionFreezeCard || d.Reasons[0] != "Untrusted device detected" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestAssessNoSignalsIsLow(t *testing.T) {
	a := Assess(RiskInput{})
	if a.Score != 0 || a.Level != domain.RiskLow || len(a.Signals) != 0 {
		t.Fatalf("unexpected assessment: %+v", a)
	}
	if d := Decide(a, ""); d.Action != domain.ActionExplainOnly {
		t.Fatalf("expected EXPLAIN_ONLY got %s", d.Action)
	}
}

func TestAssessScoreIsMonotonic(t *testing.T) {
	profile := domain.Profile{}
	recent := []domain.Transaction{{GeoCountry: "IN", MCC: "5411"}}
	suspect := &domain.Transaction{Amount: 60_000, GeoCountry: "IN", MCC: "5411"}
	in := RiskInput{Profile: profile, Recent: recent, Suspect: suspect}

	steps := []func(*RiskInput){
		func(in *RiskInput) { in.Message = "lost" },
		func(in *RiskInput) { in.Message += " unauthorized" },
		func(in *RiskInput) { in.Message += " duplicate" },
		func(in *RiskInput) {
			for len(in.Recent) <= 20 {
				in.Recent = append(in.Recent, domain.Transaction{GeoCountry: "IN", MCC: "5411"})
			}
		},
		func(in *RiskInput) { in.Suspect.DeviceID = "dev_unknown" },
		func(in *RiskInput) { in.Suspect.GeoCountry = "SG" },
		func(in *RiskInput) { in.Suspect.MCC = "7995" },
		func(in *RiskInput) { in.Profile.RecentChargebacks = 3 },
	}

	prev := Assess(in).Score
	for i, apply := range steps {
		apply(&in)
		got := Assess(in).Score
		if got <= prev {
			t.Fatalf("step %d: expected score to grow from %d, got %d", i, prev, got)
		}
		prev = got
	}
	if prev != 15+40+35+5+20+25+20+10+30 {
		t.Fatalf("unexpected total %d", prev)
	}
}

func TestAssessAmountBands(t *testing.T) {
	recent := []domain.Transaction{{GeoCountry: "IN", MCC: "5411"}}
	cases := []struct {
		amount   int64
		score    int
		severity domain.RiskLevel
	}{
		{50_000, 0, ""},
		{-60_000, 15, domain.RiskMedium},
		{100_000, 15, domain.RiskMedium},
		{100_001, 25, domain.RiskHigh},
	}
	for _, tc := range cases {
		a := Assess(RiskInput{Recent: recent, Suspect: &domain.Transaction{Amount: tc.amount, GeoCountry: "IN", MCC: "5411"}})
		if a.Score != tc.score {
			t.Fatalf("amount %d: expected score %d got %d", tc.amount, tc.score, a.Score)
		}
		if tc.score > 0 && a.Signals[0].Severity != tc.severity {
			t.Fatalf("amount %d: expected severity %s got %s", tc.amount, tc.severity, a.Signals[0].Severity)
		}
	}
}

func TestAssessGeoNeedsHistory(t *testing.T) {
	a := Assess(RiskInput{Suspect: &domain.Transaction{GeoCountry: "SG", MCC: "5411"}})
	if a.Has(domain.SignalGeoAnomaly) {
		t.Fatal("expected no geo anomaly without history")
	}
	if !a.Has(domain.SignalMCCAnomaly) {
		t.Fatal("expected mcc anomaly without history")
	}
}

func TestDecideTable(t *testing.T) {
	sig := func(kinds ...domain.SignalKind) []domain.Signal {
		out := make([]domain.Signal, 0, len(kinds))
		for _, k := range kinds {
			out = append(out, domain.Signal{Kind: k})
		}
		return out
	}

	cases := []struct {
		name    string
		level   domain.RiskLevel
		signals []domain.Signal
		message string
		want    domain.Action
		reason  string
	}{
		{"high chargeback wins", domain.RiskHigh, sig(domain.SignalCardLost, domain.SignalChargebackHistory), "", domain.ActionEscalateCase, "Multiple chargeback history requires escalation"},
		{"high card lost", domain.RiskHigh, sig(domain.SignalUnauthorized, domain.SignalCardLost), "", domain.ActionFreezeCard, "Card reported lost/stolen"},
		{"high unauthorized", domain.RiskHigh, sig(domain.SignalUnauthorized, domain.SignalDeviceChange), "", domain.ActionOpenDispute, "Unauthorized transaction reported"},
		{"high device", domain.RiskHigh, sig(domain.SignalDeviceChange), "", domain.ActionFreezeCard, "Untrusted device detected"},
		{"high default", domain.RiskHigh, sig(domain.SignalHighAmount), "", domain.ActionFreezeCard, "High risk score detected"},
		{"medium dispute", domain.RiskMedium, nil, "I want to DISPUTE this", domain.ActionOpenDispute, "Customer requested dispute"},
		{"medium default", domain.RiskMedium, nil, "", domain.ActionContactCustomer, "Medium risk requires customer verification"},
		{"low duplicate", domain.RiskLow, sig(domain.SignalDuplicate), "dispute", domain.ActionExplainOnly, "Duplicate transaction explanation needed"},
		{"low dispute", domain.RiskLow, nil, "dispute", domain.ActionOpenDispute, "Customer requested dispute"},
		{"low default", domain.RiskLow, nil, "", domain.ActionExplainOnly, "Low risk, provide explanation"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(domain.RiskAssessment{Level: tc.level, Signals: tc.signals}, tc.message)
			if d.Action != tc.want {
				t.Fatalf("expected %s got %s", tc.want, d.Action)
			}
			if len(d.Reasons) != 1 || d.Reasons[0] != tc.reason {
				t.Fatalf("expected single reason %q got %v", tc.reason, d.Reasons)
			}
			if d.RiskLevel != tc.level {
				t.Fatalf("expected level %s got %s", tc.level, d.RiskLevel)
			}
		})
	}
}

func TestProposeOpenDispute(t *testing.T) {
	d := domain.Decision{Action: domain.ActionOpenDispute, Reasons: []string{"Unauthorized transaction reported"}, RiskLevel: domain.RiskHigh}
	kb := domain.KBResult{Results: []domain.KBHit{{Title: "Disputes", Anchor: "kb_dispute"}}}

	p := Propose(d, domain.Profile{}, &domain.Transaction{ID: "txn_9"}, kb)

	if !p.OTPRequired {
		t.Fatal("expected OTP for dispute")
	}
	if p.TransactionID != "txn_9" || p.ReasonCode != DisputeReasonCode {
		t.Fatalf("unexpected dispute details: %+v", p)
	}
	if len(p.Citations) != 1 || p.Citations[0].Anchor != "kb_dispute" {
		t.Fatalf("unexpected citations: %+v", p.Citations)
	}
	if p.Message != "Dispute will be opened for unauthorized transaction" {
		t.Fatalf("unexpected message %q", p.Message)
	}
}

func TestProposeToolUpdatesStatusAndToleratesErrors(t *testing.T) {
	status := &fakeStatus{err: errors.New("db down")}
	tool := &ProposeTool{Status: status, Logger: discardLogger()}

	sc := stepContext(domain.CaseInput{CustomerID: "cust_1"},
		domain.ProfileResult{},
		domain.TransactionsResult{Suspect: &domain.Transaction{ID: "txn_1"}},
		domain.KBResult{},
		domain.Decision{Action: domain.ActionEscalateCase, Reasons: []string{"x"}, RiskLevel: domain.RiskHigh},
	)

	res, err := tool.Execute(context.Background(), sc)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p := res.(domain.Proposal); p.Action != domain.ActionEscalateCase || p.OTPRequired {
		t.Fatalf("unexpected proposal %+v", p)
	}
	if status.calls["txn_1"] != "ESCALATED" {
		t.Fatalf("expected ESCALATED update, got %v", status.calls)
	}
}

func TestToolsReportMissingDependencies(t *testing.T) {
	sc := stepContext(domain.CaseInput{CustomerID: "cust_1"})
	ctx := context.Background()

	for name, tool := range map[string]Tool{
		"risk":    RiskTool{},
		"decide":  DecideTool{},
		"propose": &ProposeTool{Logger: discardLogger()},
	} {
		if _, err := tool.Execute(ctx, sc); !errors.Is(err, domain.ErrMissingDependency) {
			t.Fatalf("%s: expected ErrMissingDependency, got %v", name, err)
		}
	}
}

func TestTransactionsToolWindowAndSuspect(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeTransactions{suspect: &domain.Transaction{ID: "txn_s"}}
	tool := &TransactionsTool{Source: src, Now: func() time.Time { return now }}

	res, err := tool.Execute(context.Background(), stepContext(domain.CaseInput{CustomerID: "c", SuspectTransactionID: "txn_s"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr := res.(domain.TransactionsResult)
	if tr.Suspect == nil || tr.Suspect.ID != "txn_s" || src.suspectID != "txn_s" {
		t.Fatalf("unexpected suspect: %+v", tr.Suspect)
	}
	if tr.Recent == nil || tr.Count != 0 {
		t.Fatalf("expected empty non-nil recent list, got %+v", tr)
	}
	if !src.gotSince.Equal(now.Add(-RecentWindow)) || src.gotLimit != RecentLimit {
		t.Fatalf("unexpected window since=%s limit=%d", src.gotSince, src.gotLimit)
	}
}

func TestProfileToolWrapsErrors(t *testing.T) {
	tool := &ProfileTool{Source: &fakeProfiles{err: domain.ErrCustomerNotFound}}
	_, err := tool.Execute(context.Background(), stepContext(domain.CaseInput{CustomerID: "missing"}))
	if !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestKBToolTermsAndDedup(t *testing.T) {
	long := strings.Repeat("a", 250)
	kb := &fakeKB{docs: map[string][]domain.KBDocument{
		"dispute": {{ID: "kb_1", Title: "Disputes", Anchor: "kb_dispute", Content: long}},
		"travel":  {{ID: "kb_2", Title: "Travel", Anchor: "kb_travel", Content: "short"}, {ID: "kb_1", Title: "Disputes", Anchor: "kb_dispute", Content: long}},
	}}
	tool := &KBTool{Searcher: kb}

	risk := domain.RiskAssessment{Signals: []domain.Signal{{Kind: domain.SignalGeoAnomaly}}}
	sc := stepContext(domain.CaseInput{CustomerID: "c", UserMessage: "Dispute while on travel"}, risk)

	res, err := tool.Execute(context.Background(), sc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	kr := res.(domain.KBResult)
	if !slices.Equal(kr.SearchTerms, []string{"dispute", "travel"}) {
		t.Fatalf("unexpected terms %v", kr.SearchTerms)
	}
	if len(kr.Results) != 2 {
		t.Fatalf("expected 2 unique hits got %d", len(kr.Results))
	}
	if got := kr.Results[0].Extract; len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected extract length %d", len(got))
	}
	if kr.Results[1].Extract != "short" {
		t.Fatalf("unexpected extract %q", kr.Results[1].Extract)
	}
}

func TestSearchTermsFromSignals(t *testing.T) {
	signals := []domain.Signal{{Kind: domain.SignalChargebackHistory}, {Kind: domain.SignalDeviceChange}}
	got := SearchTerms("please freeze it", signals)
	want := []string{"freeze", "chargeback", "device"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v got %v", want, got)
	}
}

func TestToolsetResolve(t *testing.T) {
	ts := NewToolset(Sources{Logger: discardLogger()})

	for _, step := range domain.FraudTriagePlan() {
		if _, err := ts.Resolve(step); err != nil {
			t.Fatalf("expected tool for %s: %v", step, err)
		}
	}
	if err := ts.Check(domain.FraudTriagePlan()); err != nil {
		t.Fatalf("expected plan to check: %v", err)
	}

	if _, err := ts.Resolve("summarize"); !errors.Is(err, domain.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}

	partial := Toolset{Profile: ts.Profile}
	if err := partial.Check(domain.FraudTriagePlan()); !errors.Is(err, domain.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool for unbound step, got %v", err)
	}
}
