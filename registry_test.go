package tractus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synoptiq/go-tractus"
)

// TestRegistryEmpty verifies the zero-state accessors.
func TestRegistryEmpty(t *testing.T) {
	reg := tractus.NewRegistry()

	assert.Equal(t, 0, reg.Len(), "Expected empty registry")
	assert.False(t, reg.Contains("m1"), "Empty registry must not contain identities")
	assert.Equal(t, 0, reg.ChildCount("m1"), "Unknown identity must report zero children")
	assert.Empty(t, reg.Identities(), "Expected no identities")
	assert.NoError(t, reg.Reset(context.Background()))
}

// TestRegistryObservesTracking verifies the accessors against entries created
// through the tracker.
func TestRegistryObservesTracking(t *testing.T) {
	_, provider := createTestTracer()
	tracker := tractus.NewTracker(tractus.WithTracerProvider(provider))
	ctx := context.Background()
	reg := tracker.Registry()

	first := newHTTPMessage(nil)
	first.ID = "m1"
	second := newHTTPMessage(nil)
	second.ID = "m2"

	tracker.CreateSpan(ctx, first, stepIngress, false)
	tracker.CreateSpan(ctx, first, stepLookup, false)
	tracker.CreateSpan(ctx, second, stepIngress, false)

	require.Equal(t, 2, reg.Len(), "Expected 2 entries")
	assert.True(t, reg.Contains("m1"), "Tracked identity m1 missing from registry")
	assert.True(t, reg.Contains("m2"), "Tracked identity m2 missing from registry")
	assert.Equal(t, 2, reg.ChildCount("m1"), "Expected 2 children for m1")
	assert.Equal(t, 1, reg.ChildCount("m2"), "Expected 1 child for m2")
	assert.ElementsMatch(t, []string{"m1", "m2"}, reg.Identities())

	require.NoError(t, reg.Reset(ctx))
	assert.Equal(t, 0, reg.Len(), "Expected empty registry after reset")
}
