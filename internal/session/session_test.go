package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kbpicker/kb-picker/internal/events"
)

func TestSetKnowledgeBase_PushesPreviousToHistory(t *testing.T) {
	s := New(nil)

	s.SetKnowledgeBase("kb-1")
	assert.Equal(t, "kb-1", s.ActiveID())
	assert.True(t, s.Exists())
	assert.Empty(t, s.History())

	s.SetKnowledgeBase("kb-2")
	assert.Equal(t, "kb-2", s.ActiveID())
	assert.Equal(t, []string{"kb-1"}, s.History())

	// Re-setting the same id does not duplicate it
	s.SetKnowledgeBase("kb-2")
	assert.Equal(t, []string{"kb-1"}, s.History())
}

func TestClear_KeepsHistory(t *testing.T) {
	s := New(nil)
	s.SetKnowledgeBase("kb-1")
	s.SetSyncing(true)

	s.Clear()

	assert.Empty(t, s.ActiveID())
	assert.False(t, s.Exists())
	assert.False(t, s.IsSyncing())
	assert.Equal(t, []string{"kb-1"}, s.History())
}

func TestSwitchTo(t *testing.T) {
	s := New(nil)
	s.SetKnowledgeBase("kb-1")
	s.SetKnowledgeBase("kb-2")

	s.SwitchTo("kb-1")

	assert.Equal(t, "kb-1", s.ActiveID())
	assert.Equal(t, []string{"kb-1", "kb-2"}, s.History())
}

func TestRemoveFromHistory(t *testing.T) {
	s := New(nil)
	s.SetKnowledgeBase("kb-1")
	s.SetKnowledgeBase("kb-2")

	s.RemoveFromHistory("kb-1")
	assert.Empty(t, s.History())
	assert.Equal(t, "kb-2", s.ActiveID())

	s.RemoveFromHistory("kb-2")
	assert.False(t, s.Exists())
}

func TestClearHistory(t *testing.T) {
	s := New(nil)
	s.SetKnowledgeBase("kb-1")
	s.SetKnowledgeBase("kb-2")

	s.ClearHistory()

	assert.Empty(t, s.History())
	assert.Empty(t, s.ActiveID())
}

func TestSnapshotRestore(t *testing.T) {
	s := New(nil)
	s.SetKnowledgeBase("kb-1")
	s.SetKnowledgeBase("kb-2")
	snap := s.Snapshot()

	restored := New(nil)
	restored.Restore(snap)

	assert.Equal(t, "kb-2", restored.ActiveID())
	assert.True(t, restored.Exists())
	assert.Equal(t, []string{"kb-1"}, restored.History())

	// Snapshots are copies
	snap.History[0] = "mutated"
	assert.Equal(t, []string{"kb-1"}, restored.History())
}

func TestSessionsAreIndependent(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.SetKnowledgeBase("kb-a")

	assert.Empty(t, b.ActiveID())
}

func TestKnowledgeBaseChangedEvent(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()
	ch := bus.Subscribe(events.EventKnowledgeBaseChanged)

	s := New(bus)
	s.SetKnowledgeBase("kb-1")
	s.SetKnowledgeBase("kb-2")

	for _, want := range [][2]string{{"", "kb-1"}, {"kb-1", "kb-2"}} {
		select {
		case e := <-ch:
			ev := e.(*events.KnowledgeBaseChangedEvent)
			assert.Equal(t, want[0], ev.PreviousID)
			assert.Equal(t, want[1], ev.ActiveID)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}
