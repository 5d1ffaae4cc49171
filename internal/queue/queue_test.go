package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineRunsSynchronously(t *testing.T) {
	var got string
	q := &Inline{Process: func(ctx context.Context, changeID string) error {
		got = changeID
		return nil
	}}

	require.NoError(t, q.Enqueue(context.Background(), "chg-1"))
	assert.Equal(t, "chg-1", got)
}

func TestInlinePropagatesError(t *testing.T) {
	want := errors.New("boom")
	q := &Inline{Process: func(ctx context.Context, changeID string) error {
		return want
	}}

	assert.ErrorIs(t, q.Enqueue(context.Background(), "chg-1"), want)
}

func TestDispatcherProcessesAsync(t *testing.T) {
	done := make(chan string, 1)
	d := NewDispatcher(DispatcherConfig{Process: func(ctx context.Context, changeID string) error {
		done <- changeID
		return nil
	}})

	require.NoError(t, d.Enqueue(context.Background(), "chg-1"))

	select {
	case got := <-done:
		assert.Equal(t, "chg-1", got)
	case <-time.After(time.Second):
		t.Fatal("processing never ran")
	}
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcherSerializesPerChange(t *testing.T) {
	var mu sync.Mutex
	activePerChange := make(map[string]int)
	maxActive := 0

	release := make(chan struct{})
	d := NewDispatcher(DispatcherConfig{Process: func(ctx context.Context, changeID string) error {
		mu.Lock()
		activePerChange[changeID]++
		if activePerChange[changeID] > maxActive {
			maxActive = activePerChange[changeID]
		}
		mu.Unlock()

		<-release

		mu.Lock()
		activePerChange[changeID]--
		mu.Unlock()
		return nil
	}})

	// Redeliveries while the first attempt is in flight.
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Enqueue(context.Background(), "chg-1"))
	}
	close(release)
	require.NoError(t, d.Shutdown(context.Background()))

	assert.Equal(t, 1, maxActive, "attempts for one change must not overlap")
}

func TestDispatcherCoalescesPendingRuns(t *testing.T) {
	var mu sync.Mutex
	runs := 0

	firstStarted := make(chan struct{})
	release := make(chan struct{})
	d := NewDispatcher(DispatcherConfig{Process: func(ctx context.Context, changeID string) error {
		mu.Lock()
		runs++
		first := runs == 1
		mu.Unlock()
		if first {
			close(firstStarted)
			<-release
		}
		return nil
	}})

	require.NoError(t, d.Enqueue(context.Background(), "chg-1"))
	<-firstStarted
	// Three redeliveries during the first run collapse into one rerun.
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Enqueue(context.Background(), "chg-1"))
	}
	close(release)
	require.NoError(t, d.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, runs)
}

func TestDispatcherIndependentChangesRunConcurrently(t *testing.T) {
	started := make(chan string, 2)
	release := make(chan struct{})
	d := NewDispatcher(DispatcherConfig{Process: func(ctx context.Context, changeID string) error {
		started <- changeID
		<-release
		return nil
	}})

	require.NoError(t, d.Enqueue(context.Background(), "chg-1"))
	require.NoError(t, d.Enqueue(context.Background(), "chg-2"))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-started:
			seen[id] = true
		case <-time.After(time.Second):
			t.Fatal("changes did not run concurrently")
		}
	}
	assert.True(t, seen["chg-1"] && seen["chg-2"])

	close(release)
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcherRejectsAfterShutdown(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Process: func(ctx context.Context, changeID string) error {
		return nil
	}})
	require.NoError(t, d.Shutdown(context.Background()))

	assert.ErrorIs(t, d.Enqueue(context.Background(), "chg-1"), ErrShuttingDown)
}
