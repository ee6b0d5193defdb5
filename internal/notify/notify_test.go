package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kbpicker/kb-picker/internal/api"
	"github.com/kbpicker/kb-picker/internal/events"
)

type sent struct {
	title   string
	message string
}

func captureNotifier(cfg *Config) (*Notifier, func() []sent) {
	n := NewNotifier(cfg, nil)
	var (
		mu  sync.Mutex
		out []sent
	)
	n.send = func(title, message string) error {
		mu.Lock()
		defer mu.Unlock()
		out = append(out, sent{title, message})
		return nil
	}
	n.alert = n.send
	return n, func() []sent {
		mu.Lock()
		defer mu.Unlock()
		return append([]sent(nil), out...)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Enabled {
		t.Error("Expected Enabled to be true by default")
	}
	if cfg.ShowCreated {
		t.Error("Expected ShowCreated to be false by default")
	}
	if !cfg.ShowSyncComplete {
		t.Error("Expected ShowSyncComplete to be true by default")
	}
	if !cfg.ShowFailures {
		t.Error("Expected ShowFailures to be true by default")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10c", 10, "exactly10c"},
		{"this is a long string", 10, "this is..."},
		{"", 10, ""},
		{"abc", 3, "abc"},
		{"abcd", 3, "..."},
	}

	for _, tt := range tests {
		result := truncate(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestShortenID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"3f2c1a7e-8d4b-4c2a-9e1f-123456789abc", "3f2c1a7e"},
		{"kb-123", "kb-123"},
		{"abcdefghijklmnopqrstuvwxyz", "abcdefghijklm..."},
	}

	for _, tt := range tests {
		if got := shortenID(tt.input); got != tt.expected {
			t.Errorf("shortenID(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestNotifierRespectsConfig(t *testing.T) {
	n, got := captureNotifier(DefaultConfig())

	n.KnowledgeBaseCreated("Docs", 3)
	if len(got()) != 0 {
		t.Fatalf("created notification sent while disabled: %v", got())
	}

	n.SyncComplete("kb-123", 3)
	n.OperationFailed("sync", "status 500")
	out := got()
	if len(out) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(out))
	}
	if out[0].title != "Sync Complete" {
		t.Errorf("unexpected title %q", out[0].title)
	}
	if out[1].title != "Sync Failed" || out[1].message != "status 500" {
		t.Errorf("unexpected failure notification %+v", out[1])
	}

	n.SetEnabled(false)
	n.SyncComplete("kb-123", 3)
	if len(got()) != 2 {
		t.Error("notification sent while notifier disabled")
	}
}

func TestOperationFailedEmptyOperation(t *testing.T) {
	n, got := captureNotifier(nil)
	n.OperationFailed("", "boom")
	if out := got(); len(out) != 1 || out[0].title != "Operation Failed" {
		t.Errorf("unexpected notifications %+v", out)
	}
}

func TestWatchForwardsFailures(t *testing.T) {
	n, got := captureNotifier(nil)
	bus := events.NewEventBus(8)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Watch(ctx, bus)
		close(done)
	}()

	// Wait for the subscription before publishing
	deadline := time.Now().Add(time.Second)
	for {
		bus.PublishError("fetch", errors.New("ignored"), true)
		bus.PublishError("index", errors.New("status 400"), false)
		if len(got()) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	out := got()
	if len(out) == 0 {
		t.Fatal("no notification forwarded")
	}
	for _, s := range out {
		if s.title != "Index Failed" {
			t.Errorf("unexpected notification %+v", s)
		}
	}
}

func TestWatchAlertsOnAuthFailure(t *testing.T) {
	n, got := captureNotifier(nil)
	bus := events.NewEventBus(8)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Watch(ctx, bus)
		close(done)
	}()

	authErr := &api.APIError{Operation: "trigger sync", StatusCode: 401, Body: "jwt expired"}
	deadline := time.Now().Add(time.Second)
	for len(got()) == 0 && time.Now().Before(deadline) {
		bus.PublishError("sync", authErr, false)
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	out := got()
	if len(out) == 0 {
		t.Fatal("no alert sent")
	}
	if out[0].title != "kb-picker Alert" {
		t.Errorf("title = %q, want the alert title", out[0].title)
	}
}
