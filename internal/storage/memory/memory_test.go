package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mobizinc/changegate/internal/storage"
	"github.com/Mobizinc/changegate/internal/types"
)

func newRequest(changeID string) *types.ValidationRequest {
	return &types.ValidationRequest{
		ID:            "id-" + changeID,
		ChangeID:      changeID,
		ChangeNumber:  "CHG0001",
		ComponentType: types.ComponentCatalogItem,
		ComponentID:   "cat-1",
		Status:        types.StatusReceived,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newRequest("chg-1")))

	row, err := s.GetByChangeID(ctx, "chg-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusReceived, row.Status)
	assert.False(t, row.CreatedAt.IsZero())

	_, err = s.GetByChangeID(ctx, "chg-unknown")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateDuplicateConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newRequest("chg-1")))
	err := s.Create(ctx, newRequest("chg-1"))
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestTransitionsAreMonotonic(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRequest("chg-1")))

	row, err := s.MarkProcessing(ctx, "chg-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, row.Status)

	verdict := &types.Verdict{OverallStatus: types.VerdictPassed, Checks: map[string]bool{"is_active": true}}
	row, err = s.MarkCompleted(ctx, "chg-1", verdict, 1500)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, row.Status)
	require.NotNil(t, row.Verdict)
	assert.Equal(t, types.VerdictPassed, row.Verdict.OverallStatus)
	require.NotNil(t, row.ProcessingDurationMs)
	assert.Equal(t, int64(1500), *row.ProcessingDurationMs)

	// Completed is absorbing: a late MarkFailed must not regress the row.
	row, err = s.MarkFailed(ctx, "chg-1", "late failure")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, row.Status)
	assert.Empty(t, row.FailureReason)
	assert.NotNil(t, row.Verdict)

	// And a duplicate MarkCompleted keeps the original verdict.
	row, err = s.MarkCompleted(ctx, "chg-1", &types.Verdict{OverallStatus: types.VerdictFailed}, 9)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictPassed, row.Verdict.OverallStatus)
	assert.Equal(t, int64(1500), *row.ProcessingDurationMs)
}

func TestFailedRetryIncrementsRetryCount(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRequest("chg-1")))

	_, err := s.MarkProcessing(ctx, "chg-1")
	require.NoError(t, err)

	row, err := s.MarkFailed(ctx, "chg-1", "collector blew up")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, row.Status)
	assert.Equal(t, "collector blew up", row.FailureReason)
	assert.Nil(t, row.Verdict)

	// A fresh process() call re-enters processing and bumps the retry count.
	row, err = s.MarkProcessing(ctx, "chg-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, row.Status)
	assert.Equal(t, 1, row.RetryCount)
	assert.Empty(t, row.FailureReason)
}

func TestMarkProcessingIdempotentWhileProcessing(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRequest("chg-1")))

	_, err := s.MarkProcessing(ctx, "chg-1")
	require.NoError(t, err)

	row, err := s.MarkProcessing(ctx, "chg-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, row.Status)
	assert.Equal(t, 0, row.RetryCount)
}

func TestListRecentOrdersByUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newRequest("chg-1")))
	require.NoError(t, s.Create(ctx, newRequest("chg-2")))
	_, err := s.MarkProcessing(ctx, "chg-1") // touch chg-1 last
	require.NoError(t, err)

	rows, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "chg-1", rows[0].ChangeID)

	rows, err = s.ListRecent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStoredRowsDoNotAliasCallerData(t *testing.T) {
	s := New()
	ctx := context.Background()

	req := newRequest("chg-1")
	require.NoError(t, s.Create(ctx, req))
	req.ChangeNumber = "MUTATED"

	row, err := s.GetByChangeID(ctx, "chg-1")
	require.NoError(t, err)
	assert.Equal(t, "CHG0001", row.ChangeNumber)
}
