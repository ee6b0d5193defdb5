package state

import (
	"sort"
	"sync"

	"github.com/kbpicker/kb-picker/internal/events"
	"github.com/kbpicker/kb-picker/internal/models"
)

// ResourceState is a client-side indexing state shown in place of the server
// status while a knowledge base operation is pending or just finished.
type ResourceState string

const (
	StateIndexing      ResourceState = "indexing"
	StateRemoving      ResourceState = "removing"
	StateIndexed       ResourceState = "indexed"
	StateFailed        ResourceState = "failed"
	StateSynchronized  ResourceState = "synchronized"
	StateSynchronizing ResourceState = "synchronizing"
	StateResource      ResourceState = "resource" // neutral
)

// IsPending reports whether a request for the resource is still outstanding.
func (r ResourceState) IsPending() bool {
	return r == StateIndexing || r == StateRemoving || r == StateSynchronizing
}

// StatusOverlay maps resource ids to their transient indexing state.
// Thread-safe for concurrent access.
type StatusOverlay struct {
	eventBus *events.EventBus
	states   map[string]ResourceState
	mu       sync.RWMutex
}

// NewStatusOverlay creates an empty overlay. eventBus may be nil.
func NewStatusOverlay(eventBus *events.EventBus) *StatusOverlay {
	return &StatusOverlay{
		eventBus: eventBus,
		states:   make(map[string]ResourceState),
	}
}

// Set moves every id to state.
func (o *StatusOverlay) Set(state ResourceState, ids ...string) {
	if len(ids) == 0 {
		return
	}

	o.mu.Lock()
	for _, id := range ids {
		o.states[id] = state
	}
	o.mu.Unlock()

	o.eventBus.Publish(events.NewStatusChangedEvent(string(state), ids))
}

// Transition moves the ids currently in from to to and returns those it moved.
func (o *StatusOverlay) Transition(from, to ResourceState, ids ...string) []string {
	o.mu.Lock()
	var moved []string
	for _, id := range ids {
		if o.states[id] == from {
			o.states[id] = to
			moved = append(moved, id)
		}
	}
	o.mu.Unlock()

	if len(moved) > 0 {
		o.eventBus.Publish(events.NewStatusChangedEvent(string(to), moved))
	}
	return moved
}

// Get returns the overlay state of id.
func (o *StatusOverlay) Get(id string) (ResourceState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.states[id]
	return st, ok
}

// Effective returns the status to display for r: the overlay state when one is
// set, the server status otherwise.
func (o *StatusOverlay) Effective(r models.Resource) string {
	if st, ok := o.Get(r.ResourceID); ok {
		return string(st)
	}
	return r.Status
}

// Reconcile marks every selected id present in the knowledge base listing as
// synchronized and returns the ids it changed.
func (o *StatusOverlay) Reconcile(selected []string, kbResources []models.Resource) []string {
	present := make(map[string]struct{}, len(kbResources))
	for _, r := range kbResources {
		present[r.ResourceID] = struct{}{}
	}

	o.mu.Lock()
	var changed []string
	for _, id := range selected {
		if _, ok := present[id]; !ok {
			continue
		}
		if o.states[id] != StateSynchronized {
			o.states[id] = StateSynchronized
			changed = append(changed, id)
		}
	}
	o.mu.Unlock()

	if len(changed) > 0 {
		o.eventBus.Publish(events.NewStatusChangedEvent(string(StateSynchronized), changed))
	}
	return changed
}

// Count returns how many of ids are in state.
func (o *StatusOverlay) Count(state ResourceState, ids []string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if o.states[id] == state {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the overlay.
func (o *StatusOverlay) Snapshot() map[string]ResourceState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]ResourceState, len(o.states))
	for id, st := range o.states {
		out[id] = st
	}
	return out
}

// IDs returns the sorted ids currently in state.
func (o *StatusOverlay) IDs(state ResourceState) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var out []string
	for id, st := range o.states {
		if st == state {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Clear drops every overlay state.
func (o *StatusOverlay) Clear() {
	o.mu.Lock()
	o.states = make(map[string]ResourceState)
	o.mu.Unlock()
}
