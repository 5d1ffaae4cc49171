// Package memory implements the storage interface with an in-process map.
// It backs tests and the dev-mode server; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Mobizinc/changegate/internal/storage"
	"github.com/Mobizinc/changegate/internal/types"
)

// MemoryStore is a mutex-guarded map keyed by change ID.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*types.ValidationRequest
}

// New creates an empty in-memory store.
func New() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*types.ValidationRequest)}
}

var _ storage.Store = (*MemoryStore)(nil)

// Create inserts a new request, failing with ErrConflict on duplicate change ID.
func (s *MemoryStore) Create(ctx context.Context, req *types.ValidationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[req.ChangeID]; ok {
		return storage.ErrConflict
	}

	now := time.Now().UTC()
	row := req.Clone()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	s.rows[req.ChangeID] = row
	return nil
}

// GetByChangeID returns a copy of the stored row.
func (s *MemoryStore) GetByChangeID(ctx context.Context, changeID string) (*types.ValidationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[changeID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return row.Clone(), nil
}

// MarkProcessing transitions to processing. Retrying a failed row increments
// RetryCount and clears the previous failure reason.
func (s *MemoryStore) MarkProcessing(ctx context.Context, changeID string) (*types.ValidationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[changeID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !row.Status.CanTransitionTo(types.StatusProcessing) {
		// Already processing or terminal for this attempt: no-op.
		return row.Clone(), nil
	}
	if row.Status == types.StatusFailed {
		row.RetryCount++
		row.FailureReason = ""
	}
	row.Status = types.StatusProcessing
	row.UpdatedAt = time.Now().UTC()
	return row.Clone(), nil
}

// MarkCompleted attaches the verdict. No-op on rows already terminal.
func (s *MemoryStore) MarkCompleted(ctx context.Context, changeID string, verdict *types.Verdict, durationMs int64) (*types.ValidationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[changeID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if row.Status.Terminal() {
		return row.Clone(), nil
	}

	now := time.Now().UTC()
	row.Status = types.StatusCompleted
	row.Verdict = verdict.Clone()
	row.FailureReason = ""
	row.ProcessingDurationMs = &durationMs
	row.ProcessedAt = &now
	row.UpdatedAt = now
	return row.Clone(), nil
}

// MarkFailed records the failure reason. No-op on rows already terminal.
func (s *MemoryStore) MarkFailed(ctx context.Context, changeID string, reason string) (*types.ValidationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[changeID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if row.Status.Terminal() {
		return row.Clone(), nil
	}

	now := time.Now().UTC()
	row.Status = types.StatusFailed
	row.FailureReason = reason
	row.Verdict = nil
	row.ProcessedAt = &now
	row.UpdatedAt = now
	return row.Clone(), nil
}

// ListRecent returns up to limit rows ordered by UpdatedAt descending.
func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*types.ValidationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.ValidationRequest, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
