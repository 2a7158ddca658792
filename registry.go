package tractus

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// spanRecord is the bookkeeping record for one child span. Lifecycle
// accounting runs off these records, never off the handles returned to
// callers, so a caller can never corrupt orphan resolution or sweep state
// through the span it holds.
type spanRecord struct {
	span     trace.Span
	stepID   string
	stepType string
	disabled bool
	started  time.Time
}

// spanEntry tracks one in-flight message: its journey ("parent") span plus
// the per-step child spans currently open under it. Owned exclusively by the
// Registry; all field access happens under the registry mutex.
type spanEntry struct {
	parent       trace.Span
	spans        map[string]*spanRecord // span key -> record
	lastActivity time.Time
	started      time.Time
}

// touch refreshes the inactivity clock of the entry.
func (e *spanEntry) touch() {
	e.lastActivity = time.Now()
}

// Registry maps message identities to their span-tracking entries. It is the
// single piece of shared mutable state in this package; every mutation is
// serialized by its mutex since hook callbacks and the sweeper may run on
// different goroutines.
//
// A Registry holds at most one entry per identity. Entries disappear in the
// same operation that empties their child map, or when the sweeper reclaims
// them after inactivity.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*spanEntry
}

// NewRegistry creates an empty span registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*spanEntry),
	}
}

// Len returns the number of in-flight message entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Contains reports whether an entry exists for the given message identity.
func (r *Registry) Contains(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[identity]
	return ok
}

// ChildCount returns the number of open child spans tracked for the given
// message identity, or zero when no entry exists.
func (r *Registry) ChildCount(identity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[identity]
	if !ok {
		return 0
	}
	return len(entry.spans)
}

// Identities returns a snapshot of the identities currently tracked.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Reset discards all tracked entries without ending their spans. It exists
// for host teardown after a forced flush and for test isolation; callers that
// need open spans completed first should use Tracker.Stop.
func (r *Registry) Reset(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*spanEntry)
	return nil
}

// Ensure Registry implements Resettable.
var _ Resettable = (*Registry)(nil)
