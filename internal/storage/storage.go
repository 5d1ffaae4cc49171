// Package storage provides shared types for validation request persistence.
//
// The concrete implementations live in the memory and sqlstore sub-packages.
// This package holds the interface and error values referenced by both the
// implementations and their consumers (pipeline, webhook, cmd).
package storage

import (
	"context"
	"errors"

	"github.com/Mobizinc/changegate/internal/types"
)

// ErrConflict is returned by Create when a request for the same change ID
// already exists. The orchestrator's idempotent-receipt path catches it and
// returns the existing row.
var ErrConflict = errors.New("validation request already exists")

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrUnavailable is returned after retries for transient connectivity errors
// are exhausted. It is fatal for the current invocation; the queue's own
// retry policy decides what happens next.
var ErrUnavailable = errors.New("store unavailable")

// Store is the durable record of validation requests and their lifecycle.
//
// The status-transition helpers enforce the forward-only state machine: each
// is a no-op returning the current row when the row is already at or past the
// target state. Callers never write status fields directly.
type Store interface {
	// Create inserts a new request. Fails with ErrConflict if a row with the
	// same change ID exists.
	Create(ctx context.Context, req *types.ValidationRequest) error

	// GetByChangeID returns the request for a change, or ErrNotFound.
	GetByChangeID(ctx context.Context, changeID string) (*types.ValidationRequest, error)

	// MarkProcessing transitions received->processing, or failed->processing
	// for a retry (incrementing RetryCount). Returns the row as stored.
	MarkProcessing(ctx context.Context, changeID string) (*types.ValidationRequest, error)

	// MarkCompleted attaches the verdict and transitions to completed.
	// A no-op if the row is already terminal.
	MarkCompleted(ctx context.Context, changeID string, verdict *types.Verdict, durationMs int64) (*types.ValidationRequest, error)

	// MarkFailed records the failure reason and transitions to failed.
	// A no-op if the row is already terminal.
	MarkFailed(ctx context.Context, changeID string, reason string) (*types.ValidationRequest, error)

	// ListRecent returns the most recently updated requests, newest first.
	ListRecent(ctx context.Context, limit int) ([]*types.ValidationRequest, error)

	Close() error
}
