// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/adiadia/triage-runtime/internal/domain"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestStepOutcomeCounter(t *testing.T) {
	Init()
	before := counterValue(t, stepsTotalCounter.WithLabelValues("riskSignals", "fallback_used"))

	IncStepOutcome(domain.StepRiskSignals, domain.OutcomeFallbackUsed)

	after := counterValue(t, stepsTotalCounter.WithLabelValues("riskSignals", "fallback_used"))
	if after != before+1 {
		t.Fatalf("expected counter to grow by 1, got %v -> %v", before, after)
	}
}

func TestExecutionStatusCounter(t *testing.T) {
	Init()
	before := counterValue(t, executionsTotalCounter.WithLabelValues("COMPLETED"))

	IncExecutionStatus(domain.ExecutionCompleted)
	IncExecutionStatus(domain.ExecutionCompleted)

	if after := counterValue(t, executionsTotalCounter.WithLabelValues("COMPLETED")); after != before+2 {
		t.Fatalf("expected counter to grow by 2, got %v -> %v", before, after)
	}
}

func TestHelpersDoNotPanic(t *testing.T) {
	ObserveExecutionDuration(10 * time.Millisecond)
	ObserveStepDuration(domain.StepDecide, time.Millisecond)
	IncFallback(domain.StepKBLookup, "tool timeout")
	IncBreakerOpen(domain.StepKBLookup)
	ObserveWorkerClaimLatency(time.Millisecond)
	ObserveHTTPRequest("/triage", 200, time.Millisecond)
}
