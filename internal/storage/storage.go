// Package storage defines the optional persistence interface for execution
// history. The in-memory core never depends on it; the server records
// finished executions when a store is configured.
package storage

import (
	"context"
	"time"
)

// ExecutionRecord is one finished sandbox execution.
type ExecutionRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Language   string    `json:"language"`
	ExitCode   int       `json:"exitCode"`
	Failed     bool      `json:"failed"` // launch failure or abnormal termination
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// ListOptions controls filtering and pagination for ListExecutions.
type ListOptions struct {
	SessionID string
	Limit     int
	Offset    int
}

// Store persists execution history.
type Store interface {
	// SaveExecution inserts one record. The ID must be set by the caller.
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error

	// ListExecutions returns records ordered by finished_at descending.
	ListExecutions(ctx context.Context, opts ListOptions) ([]ExecutionRecord, error)

	// Close releases resources.
	Close() error
}
