package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbpicker/kb-picker/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventLog   EventType = "log"
	EventError EventType = "error"

	// Tree events
	EventChildrenLoaded     EventType = "children_loaded"      // ChildMap entry merged
	EventChildrenLoadFailed EventType = "children_load_failed" // Fetch failed, entry left absent
	EventSelectionChanged   EventType = "selection_changed"
	EventExpansionChanged   EventType = "expansion_changed"

	// Knowledge base events
	EventStatusChanged        EventType = "status_changed"         // Overlay state moved for some ids
	EventKnowledgeBaseChanged EventType = "knowledge_base_changed" // Active KB set, switched or cleared
	EventSyncProgress         EventType = "sync_progress"
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func newBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	Stage   string
	Error   error
}

// ErrorEvent represents error conditions
type ErrorEvent struct {
	BaseEvent
	Operation string // "fetch", "index", "sync", "remove", "reconcile"
	Error     error
	Retryable bool
}

// ChildrenLoadedEvent is published once per folder, when its listing is merged.
type ChildrenLoadedEvent struct {
	BaseEvent
	FolderID     string
	Count        int
	AutoSelected int // descendants selected because the folder was already selected
}

// ChildrenLoadFailedEvent is published when a folder fetch fails.
type ChildrenLoadFailedEvent struct {
	BaseEvent
	FolderID string
	Error    error
}

// SelectionChangedEvent carries the ids added to and removed from the selection.
type SelectionChangedEvent struct {
	BaseEvent
	Added    []string
	Removed  []string
	Selected int // selection size after the change
}

// ExpansionChangedEvent represents a folder being expanded or collapsed.
type ExpansionChangedEvent struct {
	BaseEvent
	FolderID string
	Expanded bool
}

// StatusChangedEvent represents an indexing overlay transition.
type StatusChangedEvent struct {
	BaseEvent
	IDs   []string
	State string
}

// KnowledgeBaseChangedEvent represents a change of the active knowledge base.
type KnowledgeBaseChangedEvent struct {
	BaseEvent
	PreviousID string
	ActiveID   string // empty when cleared
}

// SyncProgressEvent reports how many leaves are synchronized while waiting on a sync.
type SyncProgressEvent struct {
	BaseEvent
	KnowledgeBaseID string
	Synchronized    int
	Total           int
}

// NewChildrenLoadedEvent creates a ChildrenLoadedEvent stamped with the current time.
func NewChildrenLoadedEvent(folderID string, count, autoSelected int) *ChildrenLoadedEvent {
	return &ChildrenLoadedEvent{
		BaseEvent:    newBase(EventChildrenLoaded),
		FolderID:     folderID,
		Count:        count,
		AutoSelected: autoSelected,
	}
}

// NewChildrenLoadFailedEvent creates a ChildrenLoadFailedEvent.
func NewChildrenLoadFailedEvent(folderID string, err error) *ChildrenLoadFailedEvent {
	return &ChildrenLoadFailedEvent{
		BaseEvent: newBase(EventChildrenLoadFailed),
		FolderID:  folderID,
		Error:     err,
	}
}

// NewSelectionChangedEvent creates a SelectionChangedEvent.
func NewSelectionChangedEvent(added, removed []string, selected int) *SelectionChangedEvent {
	return &SelectionChangedEvent{
		BaseEvent: newBase(EventSelectionChanged),
		Added:     added,
		Removed:   removed,
		Selected:  selected,
	}
}

// NewExpansionChangedEvent creates an ExpansionChangedEvent.
func NewExpansionChangedEvent(folderID string, expanded bool) *ExpansionChangedEvent {
	return &ExpansionChangedEvent{
		BaseEvent: newBase(EventExpansionChanged),
		FolderID:  folderID,
		Expanded:  expanded,
	}
}

// NewStatusChangedEvent creates a StatusChangedEvent.
func NewStatusChangedEvent(state string, ids []string) *StatusChangedEvent {
	return &StatusChangedEvent{
		BaseEvent: newBase(EventStatusChanged),
		IDs:       ids,
		State:     state,
	}
}

// NewKnowledgeBaseChangedEvent creates a KnowledgeBaseChangedEvent.
func NewKnowledgeBaseChangedEvent(previousID, activeID string) *KnowledgeBaseChangedEvent {
	return &KnowledgeBaseChangedEvent{
		BaseEvent:  newBase(EventKnowledgeBaseChanged),
		PreviousID: previousID,
		ActiveID:   activeID,
	}
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking.
// A nil bus is a valid no-op publisher.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, stage string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: newBase(EventLog),
		Level:     level,
		Message:   message,
		Stage:     stage,
		Error:     err,
	})
}

// PublishError is a convenience method for publishing error events
func (eb *EventBus) PublishError(operation string, err error, retryable bool) {
	eb.Publish(&ErrorEvent{
		BaseEvent: newBase(EventError),
		Operation: operation,
		Error:     err,
		Retryable: retryable,
	})
}

// PublishSyncProgress is a convenience method for publishing sync progress
func (eb *EventBus) PublishSyncProgress(kbID string, synchronized, total int) {
	eb.Publish(&SyncProgressEvent{
		BaseEvent:       newBase(EventSyncProgress),
		KnowledgeBaseID: kbID,
		Synchronized:    synchronized,
		Total:           total,
	})
}

// Unsubscribe removes a subscription channel from a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// ResetDroppedEventCount resets the dropped event counter to zero
func (eb *EventBus) ResetDroppedEventCount() int64 {
	return eb.droppedEvents.Swap(0)
}
