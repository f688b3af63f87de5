// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/adiadia/triage-runtime/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	executionsTotalCounter    *prometheus.CounterVec
	executionDurationMetric   prometheus.Histogram
	stepsTotalCounter         *prometheus.CounterVec
	stepExecutionDurationVec  *prometheus.HistogramVec
	fallbacksTotalCounter     *prometheus.CounterVec
	breakerOpenedCounter      *prometheus.CounterVec
	workerClaimLatencyMetric  prometheus.Histogram
	httpRequestsTotalCounter  *prometheus.CounterVec
	httpRequestDurationMetric *prometheus.HistogramVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		executionsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_executions_total",
				Help: "Total number of triage executions by terminal status.",
			},
			[]string{"status"},
		)

		executionDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "triage_execution_duration_seconds",
				Help:    "Wall-clock duration of triage executions in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		stepsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_steps_total",
				Help: "Total number of pipeline step outcomes by step and outcome kind.",
			},
			[]string{"step", "outcome"},
		)

		stepExecutionDurationVec = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_step_duration_seconds",
				Help:    "Duration of tool calls in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		)

		fallbacksTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_fallbacks_total",
				Help: "Total number of fallback substitutions by step and trigger.",
			},
			[]string{"step", "reason"},
		)

		breakerOpenedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_breaker_open_total",
				Help: "Total number of failures recorded while a tool breaker was open.",
			},
			[]string{"step"},
		)

		workerClaimLatencyMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "worker_claim_latency_seconds",
				Help:    "Latency of worker execution claim queries in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		httpRequestsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by route pattern and status code.",
			},
			[]string{"route", "code"},
		)

		httpRequestDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds by route pattern.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		)

		prometheus.MustRegister(
			executionsTotalCounter,
			executionDurationMetric,
			stepsTotalCounter,
			stepExecutionDurationVec,
			fallbacksTotalCounter,
			breakerOpenedCounter,
			workerClaimLatencyMetric,
			httpRequestsTotalCounter,
			httpRequestDurationMetric,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.ExecutionStatus{
			domain.ExecutionCompleted,
			domain.ExecutionFailed,
		} {
			executionsTotalCounter.WithLabelValues(string(status))
		}

		for _, step := range domain.FraudTriagePlan() {
			for _, kind := range []domain.OutcomeKind{
				domain.OutcomeSuccess,
				domain.OutcomeFailure,
				domain.OutcomeFallbackUsed,
			} {
				stepsTotalCounter.WithLabelValues(string(step), string(kind))
			}
		}
	})
}

func IncExecutionStatus(status domain.ExecutionStatus) {
	Init()
	executionsTotalCounter.WithLabelValues(string(status)).Inc()
}

func ObserveExecutionDuration(d time.Duration) {
	Init()
	executionDurationMetric.Observe(d.Seconds())
}

func IncStepOutcome(step domain.StepName, kind domain.OutcomeKind) {
	Init()
	stepsTotalCounter.WithLabelValues(string(step), string(kind)).Inc()
}

func ObserveStepDuration(step domain.StepName, d time.Duration) {
	Init()
	stepExecutionDurationVec.WithLabelValues(string(step)).Observe(d.Seconds())
}

func IncFallback(step domain.StepName, reason string) {
	Init()
	fallbacksTotalCounter.WithLabelValues(string(step), reason).Inc()
}

func IncBreakerOpen(step domain.StepName) {
	Init()
	breakerOpenedCounter.WithLabelValues(string(step)).Inc()
}

func ObserveWorkerClaimLatency(d time.Duration) {
	Init()
	workerClaimLatencyMetric.Observe(d.Seconds())
}

func ObserveHTTPRequest(route string, code int, d time.Duration) {
	Init()
	httpRequestsTotalCounter.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpRequestDurationMetric.WithLabelValues(route).Observe(d.Seconds())
}
