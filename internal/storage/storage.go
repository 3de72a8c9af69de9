package storage

import (
	"context"
	"errors"
	"time"

	"github.com/michaelbrown/jsbox/internal/sandbox"
)

// ExecutionStatus is the final state of a recorded run.
type ExecutionStatus string

const (
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusFailed    ExecutionStatus = "failed"
	StatusTimedOut  ExecutionStatus = "timed_out"
)

var (
	// ErrNotFound is returned when no execution matches an ID or prefix.
	ErrNotFound = errors.New("execution not found")

	// ErrAmbiguous is returned when a prefix matches more than one execution.
	ErrAmbiguous = errors.New("ambiguous execution prefix")
)

// Execution is one recorded run_js call.
type Execution struct {
	ID         string          `json:"id" yaml:"id"`
	Code       string          `json:"code" yaml:"code"`
	Status     ExecutionStatus `json:"status" yaml:"status"`
	Result     string          `json:"result,omitempty" yaml:"result,omitempty"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
	Logs       []string        `json:"logs" yaml:"logs"`
	DurationMS int64           `json:"duration_ms" yaml:"duration_ms"`
	CreatedAt  time.Time       `json:"created_at" yaml:"created_at"`
}

// NewExecution records the outcome of running code under the given ID.
func NewExecution(id, code string, out *sandbox.Outcome) *Execution {
	logs := out.Logs
	if logs == nil {
		logs = []string{}
	}
	return &Execution{
		ID:         id,
		Code:       code,
		Status:     ExecutionStatus(out.Status()),
		Result:     out.Result,
		Error:      out.Error,
		Logs:       logs,
		DurationMS: out.Duration.Milliseconds(),
	}
}

// Outcome rebuilds the response body that was returned for this execution.
func (e *Execution) Outcome() *sandbox.Outcome {
	if e.Status == StatusSucceeded {
		return sandbox.Succeeded(e.Result, e.Logs)
	}
	out := sandbox.Failed(e.Error, e.Logs)
	out.TimedOut = e.Status == StatusTimedOut
	return out
}

// ExecutionListOptions controls filtering and pagination for ListExecutions.
type ExecutionListOptions struct {
	Status ExecutionStatus
	Limit  int
	Offset int
}

// Store is the persistence interface for execution history.
type Store interface {
	// CreateExecution inserts a new execution. The ID field must be set by the caller.
	CreateExecution(ctx context.Context, e *Execution) error

	// GetExecution returns an execution by ID or ID prefix.
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// ListExecutions returns executions ordered by created_at descending.
	ListExecutions(ctx context.Context, opts ExecutionListOptions) ([]Execution, error)

	// DeleteExecution removes an execution by ID or ID prefix.
	DeleteExecution(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
