package tractus_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synoptiq/go-tractus"
)

// TestNewSweeperValidation verifies constructor contract violations panic.
func TestNewSweeperValidation(t *testing.T) {
	assert.PanicsWithValue(
		t,
		"tractus.NewSweeper: sweep function cannot be nil",
		func() { tractus.NewSweeper(time.Second, nil, nil) },
		"Expected panic for nil sweep function",
	)
	assert.PanicsWithValue(
		t,
		"tractus.NewSweeper: interval must be positive",
		func() { tractus.NewSweeper(0, func(context.Context) int { return 0 }, nil) },
		"Expected panic for nonpositive interval",
	)
}

// TestSweeperLifecycle verifies the sweep loop runs on its cadence and halts
// cleanly.
func TestSweeperLifecycle(t *testing.T) {
	var calls atomic.Int32
	sweeper := tractus.NewSweeper(10*time.Millisecond, func(context.Context) int {
		calls.Add(1)
		return 0
	}, nil)
	ctx := context.Background()

	assert.False(t, sweeper.Running(), "Sweeper must not run before Start")
	require.NoError(t, sweeper.Start(ctx))
	assert.True(t, sweeper.Running(), "Sweeper should report running after Start")
	// Starting again is a no-op.
	require.NoError(t, sweeper.Start(ctx))

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, sweeper.Stop(ctx))
	assert.False(t, sweeper.Running(), "Sweeper should report stopped after Stop")

	settled := calls.Load()
	assert.GreaterOrEqual(t, settled, int32(2), "Expected at least two sweep passes")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, calls.Load(), "Sweep passes must not continue after Stop")

	// Stopping again is a no-op.
	require.NoError(t, sweeper.Stop(ctx))
}

// TestSweeperRestart verifies a stopped sweeper can be started again.
func TestSweeperRestart(t *testing.T) {
	var calls atomic.Int32
	sweeper := tractus.NewSweeper(10*time.Millisecond, func(context.Context) int {
		calls.Add(1)
		return 0
	}, nil)
	ctx := context.Background()

	require.NoError(t, sweeper.Start(ctx))
	time.Sleep(35 * time.Millisecond)
	require.NoError(t, sweeper.Stop(ctx))

	first := calls.Load()
	require.Positive(t, first, "Expected sweep passes before restart")

	require.NoError(t, sweeper.Start(ctx))
	time.Sleep(35 * time.Millisecond)
	require.NoError(t, sweeper.Stop(ctx))

	assert.Greater(t, calls.Load(), first, "Restart should resume sweep passes")
}

// TestTrackerBackgroundSweep verifies the tracker's own sweep loop reclaims
// abandoned entries end to end.
func TestTrackerBackgroundSweep(t *testing.T) {
	recorder, provider := createTestTracer()
	tracker := tractus.NewTracker(
		tractus.WithTracerProvider(provider),
		tractus.WithSweepTimeout(0),
		tractus.WithSweepInterval(10*time.Millisecond),
	)
	ctx := context.Background()

	msg := newHTTPMessage(nil)
	msg.ID = "m1"
	tracker.CreateSpan(ctx, msg, stepIngress, false)

	require.NoError(t, tracker.Start(ctx))
	defer tracker.Stop(ctx)

	deadline := time.Now().Add(500 * time.Millisecond)
	for tracker.Registry().Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	require.Equal(t, 0, tracker.Registry().Len(), "Expected background sweep to reclaim the entry")
	assert.Len(t, recorder.Ended(), 2, "Expected child and journey spans ended")
}
