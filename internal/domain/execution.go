// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// CaseInput is the entry contract of a triage run.
type CaseInput struct {
	CustomerID           string `json:"customerId"`
	SuspectTransactionID string `json:"suspectTxnId,omitempty"`
	UserMessage          string `json:"userMessage,omitempty"`
}

func (in CaseInput) Normalize() CaseInput {
	return CaseInput{
		CustomerID:           strings.TrimSpace(in.CustomerID),
		SuspectTransactionID: strings.TrimSpace(in.SuspectTransactionID),
		UserMessage:          strings.TrimSpace(in.UserMessage),
	}
}

func (in CaseInput) Validate() error {
	if strings.TrimSpace(in.CustomerID) == "" {
		return ErrInvalidCaseInput
	}
	return nil
}

// RunResult is the exit contract of a triage run.
type RunResult struct {
	ExecutionID uuid.UUID       `json:"executionId"`
	Status      ExecutionStatus `json:"status"`
	DurationMs  int64           `json:"durationMs"`
	Trace       Trace           `json:"trace"`
	Proposal    Proposal        `json:"proposal"`
	Error       string          `json:"error,omitempty"`
}

type FinalizeParams struct {
	Trace      Trace
	Result     *Proposal
	Error      string
	DurationMs int64
}

// ExecutionRecord is the persisted view of one run.
type ExecutionRecord struct {
	ID                   uuid.UUID       `json:"execution_id"`
	CustomerID           string          `json:"customer_id"`
	SuspectTransactionID string          `json:"suspect_txn_id,omitempty"`
	UserMessage          string          `json:"user_message,omitempty"`
	ExecutionType        string          `json:"execution_type"`
	Status               ExecutionStatus `json:"status"`
	Plan                 []string        `json:"plan"`
	Trace                json.RawMessage `json:"trace,omitempty"`
	Result               json.RawMessage `json:"result,omitempty"`
	Error                string          `json:"error,omitempty"`
	StartedAt            time.Time       `json:"started_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	DurationMs           *int64          `json:"duration_ms,omitempty"`
}

// ClaimedExecution is a queued execution picked up by a worker.
type ClaimedExecution struct {
	ID          uuid.UUID
	Input       CaseInput
	CallbackURL string
	Attempts    int
	Reclaimed   bool
}

// StepRecord is one persisted trace entry.
type StepRecord struct {
	Seq       int             `json:"seq"`
	Step      string          `json:"step"`
	FinalKind string          `json:"final_kind"`
	Outcomes  json.RawMessage `json:"outcomes"`
	CreatedAt time.Time       `json:"created_at"`
}
