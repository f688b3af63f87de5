// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adiadia/triage-runtime/internal/domain"
	"github.com/adiadia/triage-runtime/internal/metrics"
	"github.com/adiadia/triage-runtime/internal/orchestrator"
	"github.com/adiadia/triage-runtime/internal/redact"
	"github.com/adiadia/triage-runtime/internal/transport/middleware"
)

const (
	maxRequestBody    = 64 << 10
	streamBuffer      = 64
	eventPollInterval = 500 * time.Millisecond
)

type triageRequest struct {
	CustomerID           string `json:"customerId"`
	SuspectTransactionID string `json:"suspectTxnId"`
	UserMessage          string `json:"userMessage"`
	CallbackURL          string `json:"callbackUrl"`
}

type inspectRequest struct {
	Text string `json:"text"`
}

type Deps struct {
	Orchestrator TriageRunner
	Executions   ExecutionReader
	Queue        ExecutionQueue
	StepRepo     StepLister
	EventRepo    EventStreamer
	Breakers     BreakerInspector
	Health       HealthChecker
	Redactor     *redact.Redactor
	Logger       *slog.Logger
	APIToken     string
	Version      string
	Commit       string
	BuildDate    string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redactor := deps.Redactor
	if redactor == nil {
		redactor = redact.New()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Health.Ping(ctx); err != nil {
				logger.Warn("health check failed", "error", err)
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- TRIAGE (API TOKEN AUTH) ----------------

	r.Group(func(r chi.Router) {
		if strings.TrimSpace(deps.APIToken) != "" {
			r.Use(middleware.APITokenAuth(deps.APIToken, logger))
		}

		// ---------------- BLOCKING RUN ----------------

		r.Post("/triage", func(w http.ResponseWriter, r *http.Request) {
			in, _, err := decodeTriageRequest(w, r, redactor)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			res, err := deps.Orchestrator.Run(r.Context(), in)
			if err != nil {
				writeRunError(w, logger, res, err)
				return
			}

			writeJSON(w, http.StatusOK, res)
		})

		// ---------------- STREAMING RUN (SSE) ----------------

		r.Post("/triage/stream", func(w http.ResponseWriter, r *http.Request) {
			in, _, err := decodeTriageRequest(w, r, redactor)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			flusher, ok := w.(http.Flusher)
			if !ok {
				http.Error(w, "streaming unsupported", http.StatusInternalServerError)
				return
			}

			startSSE(w, flusher)

			type runOutcome struct {
				res domain.RunResult
				err error
			}

			events := make(chan domain.Event, streamBuffer)
			done := make(chan runOutcome, 1)

			// The run outlives a disconnected client; events it cannot buffer are
			// dropped here and remain available from the persisted event log.
			sink := orchestrator.SinkFunc(func(ev domain.Event) {
				select {
				case events <- ev:
				default:
					logger.Warn("sse event dropped", "execution_id", ev.ExecutionID, "event", ev.Kind)
				}
			})

			go func() {
				res, err := deps.Orchestrator.Stream(context.WithoutCancel(r.Context()), in, sink)
				done <- runOutcome{res: res, err: err}
			}()

			write := func(ev domain.Event) bool {
				if err := writeSSE(w, flusher, string(ev.Kind), ev); err != nil {
					logger.Warn("sse write failed", "execution_id", ev.ExecutionID, "error", err)
					return false
				}
				return true
			}

			for {
				select {
				case ev := <-events:
					if !write(ev) {
						return
					}
				case out := <-done:
					for drained := false; !drained; {
						select {
						case ev := <-events:
							if !write(ev) {
								return
							}
						default:
							drained = true
						}
					}
					if out.err != nil {
						logger.Error("streamed run failed", "execution_id", out.res.ExecutionID, "error", out.err)
					}
					if err := writeSSE(w, flusher, "result", out.res); err != nil {
						logger.Warn("sse result write failed", "execution_id", out.res.ExecutionID, "error", err)
					}
					return
				case <-r.Context().Done():
					return
				}
			}
		})

		// ---------------- ASYNC RUN ----------------

		r.Post("/triage/async", func(w http.ResponseWriter, r *http.Request) {
			if deps.Queue == nil {
				http.Error(w, "async triage not configured", http.StatusNotImplemented)
				return
			}

			in, callbackURL, err := decodeTriageRequest(w, r, redactor)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			id, err := deps.Queue.Enqueue(r.Context(), in, callbackURL)
			if err != nil {
				logger.Error("enqueue execution failed", "customer_id", in.CustomerID, "error", err)
				http.Error(w, "failed to enqueue triage", http.StatusInternalServerError)
				return
			}

			logger.Info("execution enqueued via API", "execution_id", id)

			writeJSON(w, http.StatusAccepted, map[string]string{
				"executionId": id.String(),
				"status":      string(domain.ExecutionPending),
			})
		})

		// ---------------- GET EXECUTION ----------------

		r.Get("/executions/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, ok := parseExecutionID(w, r)
			if !ok {
				return
			}

			rec, err := deps.Executions.GetExecution(r.Context(), id)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					logger.Warn("execution not found", "execution_id", id)
					http.Error(w, "execution not found", http.StatusNotFound)
					return
				}

				logger.Error("get execution failed", "execution_id", id, "error", err)
				http.Error(w, "failed to get execution", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, rec)
		})

		// ---------------- GET TRACE ----------------

		r.Get("/executions/{id}/trace", func(w http.ResponseWriter, r *http.Request) {
			id, ok := parseExecutionID(w, r)
			if !ok {
				return
			}

			steps, err := deps.StepRepo.ListSteps(r.Context(), id)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					logger.Warn("execution not found", "execution_id", id)
					http.Error(w, "execution not found", http.StatusNotFound)
					return
				}

				logger.Error("list steps failed", "execution_id", id, "error", err)
				http.Error(w, "failed to list trace", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, struct {
				ExecutionID string              `json:"execution_id"`
				Steps       []domain.StepRecord `json:"steps"`
			}{
				ExecutionID: id.String(),
				Steps:       steps,
			})
		})

		// ---------------- REPLAY EVENTS (SSE) ----------------

		r.Get("/executions/{id}/events", func(w http.ResponseWriter, r *http.Request) {
			id, ok := parseExecutionID(w, r)
			if !ok {
				return
			}

			if _, err := deps.Executions.GetExecution(r.Context(), id); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					http.Error(w, "execution not found", http.StatusNotFound)
					return
				}
				logger.Error("sse get execution failed", "execution_id", id, "error", err)
				http.Error(w, "failed to stream events", http.StatusInternalServerError)
				return
			}

			if deps.EventRepo == nil {
				logger.Error("sse events repository is not configured")
				http.Error(w, "failed to stream events", http.StatusInternalServerError)
				return
			}

			since := strings.TrimSpace(r.URL.Query().Get("since_id"))
			cursor, err := resolveEventsCursor(r.Context(), deps.EventRepo, id, since)
			if err != nil {
				if errors.Is(err, errInvalidSinceID) {
					http.Error(w, "invalid since_id", http.StatusBadRequest)
					return
				}
				logger.Error("resolve events cursor failed",
					"execution_id", id,
					"since_id", since,
					"error", err,
				)
				http.Error(w, "failed to stream events", http.StatusInternalServerError)
				return
			}

			flusher, ok := w.(http.Flusher)
			if !ok {
				http.Error(w, "streaming unsupported", http.StatusInternalServerError)
				return
			}

			startSSE(w, flusher)

			// writeEvents reports true once a terminal event has been sent.
			writeEvents := func() (bool, error) {
				events, err := deps.EventRepo.ListEventsAfter(r.Context(), id, cursor)
				if err != nil {
					return false, err
				}

				for _, ev := range events {
					if err := writeSSE(w, flusher, ev.Type, ev); err != nil {
						return false, err
					}
					cursor = ev.Seq
					if isTerminalEvent(ev.Type) {
						return true, nil
					}
				}

				return false, nil
			}

			finished, err := writeEvents()
			if err != nil {
				logger.Error("sse initial write failed", "execution_id", id, "error", err)
				return
			}
			if finished {
				return
			}

			ticker := time.NewTicker(eventPollInterval)
			defer ticker.Stop()

			for {
				select {
				case <-r.Context().Done():
					return
				case <-ticker.C:
					finished, err := writeEvents()
					if err != nil {
						logger.Error("sse write failed", "execution_id", id, "error", err)
						return
					}
					if finished {
						return
					}
				}
			}
		})

		// ---------------- INSPECT PII ----------------

		r.Post("/inspect", func(w http.ResponseWriter, r *http.Request) {
			var req inspectRequest
			if err := decodeJSON(w, r, &req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			kinds := redactor.Detect(req.Text)
			writeJSON(w, http.StatusOK, map[string]any{
				"contains_pii": len(kinds) > 0,
				"types":        kinds,
				"spans":        redactor.Spans(req.Text),
				"redacted":     redactor.Redact(req.Text),
			})
		})

		// ---------------- BREAKERS ----------------

		r.Get("/breakers", func(w http.ResponseWriter, r *http.Request) {
			if deps.Breakers == nil {
				writeJSON(w, http.StatusOK, map[string]any{"breakers": []any{}})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"breakers": deps.Breakers.Snapshot()})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRunError(w http.ResponseWriter, logger *slog.Logger, res domain.RunResult, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCaseInput):
		http.Error(w, "customerId is required", http.StatusBadRequest)
	case errors.Is(err, domain.ErrStoreUnavailable):
		logger.Error("triage run failed", "execution_id", res.ExecutionID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, res)
	default:
		logger.Error("triage run failed", "execution_id", res.ExecutionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, res)
	}
}

func startSSE(w http.ResponseWriter, flusher http.Flusher) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func isTerminalEvent(kind string) bool {
	return kind == string(domain.EventFinalized) || kind == string(domain.EventRunFailed)
}

func parseExecutionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid execution ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return io.EOF
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

// decodeTriageRequest validates the body and masks PII in the message before
// it reaches the orchestrator, the store or the logs.
func decodeTriageRequest(w http.ResponseWriter, r *http.Request, redactor *redact.Redactor) (domain.CaseInput, string, error) {
	var req triageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return domain.CaseInput{}, "", errors.New("invalid request body")
	}

	in := domain.CaseInput{
		CustomerID:           req.CustomerID,
		SuspectTransactionID: req.SuspectTransactionID,
		UserMessage:          redactor.Redact(req.UserMessage),
	}.Normalize()
	if err := in.Validate(); err != nil {
		return domain.CaseInput{}, "", errors.New("customerId is required")
	}

	callbackURL := strings.TrimSpace(req.CallbackURL)
	if callbackURL == "" {
		return in, "", nil
	}

	parsed, err := url.Parse(callbackURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return domain.CaseInput{}, "", errors.New("invalid callbackUrl")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return domain.CaseInput{}, "", errors.New("unsupported callbackUrl scheme")
	}

	return in, callbackURL, nil
}

var errInvalidSinceID = errors.New("invalid since_id")

func resolveEventsCursor(
	ctx context.Context,
	eventRepo EventStreamer,
	executionID uuid.UUID,
	since string,
) (int64, error) {
	if since == "" {
		return 0, nil
	}

	if seq, err := strconv.ParseInt(since, 10, 64); err == nil {
		if seq < 0 {
			return 0, errInvalidSinceID
		}
		return seq, nil
	}

	eventID, err := uuid.Parse(since)
	if err != nil {
		return 0, errInvalidSinceID
	}

	seq, err := eventRepo.ResolveCursorByEventID(ctx, executionID, eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errInvalidSinceID
		}
		return 0, err
	}

	return seq, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
