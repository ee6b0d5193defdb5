// Package session holds the knowledge base identity of one picker session:
// the active knowledge base and the ids of those created or used before it.
package session

import (
	"slices"
	"sync"

	"github.com/kbpicker/kb-picker/internal/events"
)

// Snapshot is a copy of the session state, suitable for persistence.
type Snapshot struct {
	ActiveID string
	Exists   bool
	Syncing  bool
	History  []string // oldest first
}

// Session tracks the active knowledge base and its history.
// At most one knowledge base is active; switching pushes the previous one into
// the history. Thread-safe for concurrent access.
type Session struct {
	eventBus *events.EventBus

	activeID string
	exists   bool
	syncing  bool
	history  []string

	mu sync.RWMutex
}

// New creates an empty session. eventBus may be nil.
func New(eventBus *events.EventBus) *Session {
	return &Session{eventBus: eventBus}
}

// SetKnowledgeBase makes id the active knowledge base. A different, previously
// active id is appended to the history.
func (s *Session) SetKnowledgeBase(id string) {
	s.mu.Lock()
	prev := s.activeID
	if prev != "" && prev != id {
		s.pushHistoryLocked(prev)
	}
	s.activeID = id
	s.exists = id != ""
	s.syncing = false
	s.mu.Unlock()

	s.eventBus.Publish(events.NewKnowledgeBaseChangedEvent(prev, id))
}

// Clear deactivates the current knowledge base, keeping it in the history.
func (s *Session) Clear() {
	s.mu.Lock()
	prev := s.activeID
	if prev != "" {
		s.pushHistoryLocked(prev)
	}
	s.activeID = ""
	s.exists = false
	s.syncing = false
	s.mu.Unlock()

	if prev != "" {
		s.eventBus.Publish(events.NewKnowledgeBaseChangedEvent(prev, ""))
	}
}

// SwitchTo activates a knowledge base, typically one from the history.
// The history entry is kept; the previously active id joins the history.
func (s *Session) SwitchTo(id string) {
	s.SetKnowledgeBase(id)
}

// RemoveFromHistory drops id from the history. Removing the active id also
// deactivates it.
func (s *Session) RemoveFromHistory(id string) {
	s.mu.Lock()
	s.history = slices.DeleteFunc(s.history, func(h string) bool { return h == id })
	wasActive := s.activeID == id && id != ""
	if wasActive {
		s.activeID = ""
		s.exists = false
		s.syncing = false
	}
	s.mu.Unlock()

	if wasActive {
		s.eventBus.Publish(events.NewKnowledgeBaseChangedEvent(id, ""))
	}
}

// ClearHistory empties the history and deactivates the current knowledge base.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	prev := s.activeID
	s.activeID = ""
	s.exists = false
	s.syncing = false
	s.history = nil
	s.mu.Unlock()

	if prev != "" {
		s.eventBus.Publish(events.NewKnowledgeBaseChangedEvent(prev, ""))
	}
}

func (s *Session) pushHistoryLocked(id string) {
	if !slices.Contains(s.history, id) {
		s.history = append(s.history, id)
	}
}

// SetSyncing records whether a sync of the active knowledge base is running.
func (s *Session) SetSyncing(syncing bool) {
	s.mu.Lock()
	s.syncing = syncing
	s.mu.Unlock()
}

// ActiveID returns the active knowledge base id, or "" when none is active.
func (s *Session) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Exists reports whether a knowledge base is active.
func (s *Session) Exists() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exists
}

// IsSyncing reports whether a sync is running.
func (s *Session) IsSyncing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncing
}

// History returns a copy of the history, oldest first.
func (s *Session) History() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// Snapshot returns a copy of the whole session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ActiveID: s.activeID,
		Exists:   s.exists,
		Syncing:  s.syncing,
		History:  slices.Clone(s.history),
	}
}

// Restore replaces the session state with snap. No event is published.
func (s *Session) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = snap.ActiveID
	s.exists = snap.ActiveID != ""
	s.syncing = false
	s.history = slices.Clone(snap.History)
}
