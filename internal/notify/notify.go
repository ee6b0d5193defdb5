// Package notify provides cross-platform desktop notifications for kb-picker.
// It uses github.com/gen2brain/beeep for cross-platform notification support.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/kbpicker/kb-picker/internal/api"
	"github.com/kbpicker/kb-picker/internal/events"
	"github.com/kbpicker/kb-picker/internal/logging"
	strutil "github.com/kbpicker/kb-picker/internal/util/strings"
)

const appTitle = "kb-picker"

// Notifier handles desktop notifications.
type Notifier struct {
	logger *logging.Logger
	cfg    Config
	mu     sync.RWMutex

	// send delivers a notification; beeep.Notify unless replaced in tests
	send func(title, message string) error
	// alert delivers an alert; beeep.Alert unless replaced in tests
	alert func(title, message string) error
}

// Config holds notification configuration.
type Config struct {
	// Enabled determines if notifications are sent.
	Enabled bool

	// ShowCreated shows notifications when a knowledge base is created.
	ShowCreated bool

	// ShowSyncComplete shows notifications when a sync finishes.
	ShowSyncComplete bool

	// ShowFailures shows notifications for failed index, sync and remove operations.
	ShowFailures bool
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:          true,
		ShowCreated:      false, // the CLI already prints the id
		ShowSyncComplete: true,
		ShowFailures:     true,
	}
}

// NewNotifier creates a new notifier with the given configuration.
func NewNotifier(cfg *Config, logger *logging.Logger) *Notifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Notifier{
		logger: logger,
		cfg:    *cfg,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		alert: func(title, message string) error {
			return beeep.Alert(title, message, "")
		},
	}
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg.Enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg.Enabled
}

func (n *Notifier) config() Config {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg
}

// KnowledgeBaseCreated sends a notification for a new knowledge base.
func (n *Notifier) KnowledgeBaseCreated(name string, resources int) {
	cfg := n.config()
	if !cfg.Enabled || !cfg.ShowCreated {
		return
	}

	message := fmt.Sprintf("\"%s\" created from %s.", truncate(name, 40), strutil.Count(resources, "resource"))
	if err := n.send("Knowledge Base Created", message); err != nil {
		n.logger.Warn().Err(err).Str("kb", name).Msg("Failed to send created notification")
	}
}

// SyncComplete sends a notification when every submitted resource is indexed.
func (n *Notifier) SyncComplete(kbID string, resources int) {
	cfg := n.config()
	if !cfg.Enabled || !cfg.ShowSyncComplete {
		return
	}

	message := fmt.Sprintf("Knowledge base %s is synchronized.\n%s indexed.", shortenID(kbID), strutil.Count(resources, "resource"))
	if err := n.send("Sync Complete", message); err != nil {
		n.logger.Warn().Err(err).Str("kb_id", kbID).Msg("Failed to send sync complete notification")
	}
}

// OperationFailed sends a notification for a failed knowledge base operation.
func (n *Notifier) OperationFailed(operation string, errorMsg string) {
	cfg := n.config()
	if !cfg.Enabled || !cfg.ShowFailures {
		return
	}

	title := "Operation Failed"
	if operation != "" {
		title = strings.ToUpper(operation[:1]) + operation[1:] + " Failed"
	}
	if err := n.send(title, truncate(errorMsg, 100)); err != nil {
		n.logger.Warn().Err(err).Str("operation", operation).Msg("Failed to send failure notification")
	}
}

// Watch sends a failure notification for every index, sync and remove error
// published on the bus until ctx is done or the bus is closed.
func (n *Notifier) Watch(ctx context.Context, bus *events.EventBus) {
	ch := bus.Subscribe(events.EventError)
	defer bus.Unsubscribe(events.EventError, ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			errEv, isErr := ev.(*events.ErrorEvent)
			if !isErr || errEv.Error == nil {
				continue
			}
			if api.IsAuthError(errEv.Error) {
				n.Alert("Session expired. Run 'kb-picker login' again.")
				continue
			}
			switch errEv.Operation {
			case "index", "sync", "remove":
				n.OperationFailed(errEv.Operation, errEv.Error.Error())
			}
		}
	}
}

// Alert sends an alert notification (error level).
// This is for critical issues that require user attention.
func (n *Notifier) Alert(message string) {
	if !n.IsEnabled() {
		return
	}

	title := appTitle + " Alert"

	// Alert is more prominent than Notify on some platforms
	if err := n.alert(title, message); err != nil {
		if err := n.send(title, message); err != nil {
			n.logger.Error().Err(err).Str("message", message).Msg("Failed to send alert notification")
		}
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortenID abbreviates a uuid-style id to its first segment.
func shortenID(id string) string {
	if i := strings.IndexByte(id, '-'); i >= 8 {
		return id[:i]
	}
	return truncate(id, 16)
}
