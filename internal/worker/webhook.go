// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adiadia/triage-runtime/internal/domain"
)

const (
	webhookRetryAttempts = 3
	webhookRetryBase     = 300 * time.Millisecond
	webhookHeaderSig     = "X-Signature"
	webhookHeaderTS      = "X-Signature-Timestamp"
)

// terminalWebhookPayload is posted to the callback URL of an async execution
// once it is COMPLETED or FAILED.
type terminalWebhookPayload struct {
	ExecutionID uuid.UUID              `json:"execution_id"`
	Status      domain.ExecutionStatus `json:"status"`
	Action      domain.Action          `json:"action,omitempty"`
	RiskLevel   domain.RiskLevel       `json:"risk_level,omitempty"`
	OTPRequired bool                   `json:"otp_required"`
	DurationMs  int64                  `json:"duration_ms"`
	Error       string                 `json:"error,omitempty"`
	FinishedAt  time.Time              `json:"finished_at"`
}

// webhookAttemptError says whether a failed delivery is worth repeating.
type webhookAttemptError struct {
	status    int
	err       error
	retryable bool
}

func (e *webhookAttemptError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("callback responded %d", e.status)
}

func (w *Worker) deliverTerminalWebhook(
	ctx context.Context,
	executionID uuid.UUID,
	res domain.RunResult,
	finishedAt time.Time,
	callbackURL string,
) {
	callbackURL = strings.TrimSpace(callbackURL)
	if callbackURL == "" || w.httpClient == nil {
		return
	}

	body, err := json.Marshal(terminalWebhookPayload{
		ExecutionID: executionID,
		Status:      res.Status,
		Action:      res.Proposal.Action,
		RiskLevel:   res.Proposal.RiskLevel,
		OTPRequired: res.Proposal.OTPRequired,
		DurationMs:  res.DurationMs,
		Error:       res.Error,
		FinishedAt:  finishedAt,
	})
	if err != nil {
		w.logger.Error("webhook payload marshal failed", "execution_id", executionID, "error", err)
		return
	}

	ts := strconv.FormatInt(finishedAt.Unix(), 10)
	signature := signWebhookPayload(w.webhookSecret, ts, body)

	for attempt := 1; ; attempt++ {
		aerr := w.postWebhook(ctx, callbackURL, body, ts, signature)
		if aerr == nil {
			w.logger.Info("webhook delivered",
				"execution_id", executionID,
				"status", res.Status,
				"attempt", attempt,
			)
			return
		}

		w.logger.Warn("webhook attempt failed",
			"execution_id", executionID,
			"attempt", attempt,
			"response_status", aerr.status,
			"error", aerr,
		)
		if !aerr.retryable || attempt == webhookRetryAttempts {
			w.logger.Error("webhook abandoned",
				"execution_id", executionID,
				"status", res.Status,
				"attempts", attempt,
				"error", aerr,
			)
			return
		}

		timer := time.NewTimer(webhookRetryBase << (attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Warn("webhook canceled before retry", "execution_id", executionID, "error", ctx.Err())
			return
		case <-timer.C:
		}
	}
}

func (w *Worker) postWebhook(ctx context.Context, url string, body []byte, ts, signature string) *webhookAttemptError {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &webhookAttemptError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(webhookHeaderTS, ts)
		req.Header.Set(webhookHeaderSig, signature)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return &webhookAttemptError{err: err, retryable: ctx.Err() == nil}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &webhookAttemptError{status: resp.StatusCode, retryable: true}
	default:
		return &webhookAttemptError{status: resp.StatusCode}
	}
}

// signWebhookPayload returns hex(HMAC-SHA256(secret, ts + "." + body)), or
// "" when no secret is configured.
func signWebhookPayload(secret, ts string, body []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
