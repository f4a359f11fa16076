// Package notify sends desktop notifications when a transfer batch ends.
// It uses github.com/gen2brain/beeep for cross-platform notification support.
package notify

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/stashbox/stashbox/internal/logging"
)

const appName = "stashbox"

// SendFunc delivers one notification.
type SendFunc func(title, message string) error

// Notifier handles desktop notifications.
type Notifier struct {
	logger  *logging.Logger
	send    SendFunc
	enabled bool
	mu      sync.RWMutex
}

// NewNotifier creates a notifier. A nil logger discards failures.
func NewNotifier(enabled bool, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Notifier{
		logger:  logger,
		send:    beeepSend,
		enabled: enabled,
	}
}

// SetSendFunc replaces the delivery function.
func (n *Notifier) SetSendFunc(fn SendFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.send = fn
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// BatchComplete announces the outcome of an upload or download batch.
// dest is the folder or directory the files went to and may be empty.
func (n *Notifier) BatchComplete(kind string, succeeded, failed int, dest string) {
	if !n.IsEnabled() || succeeded+failed == 0 {
		return
	}

	title := fmt.Sprintf("%s: %s complete", appName, kind)
	if failed > 0 {
		title = fmt.Sprintf("%s: %s finished with errors", appName, kind)
	}
	message := fmt.Sprintf("%d succeeded, %d failed", succeeded, failed)
	if dest != "" {
		message += "\n" + shortenPath(dest)
	}

	if err := n.deliver(title, message); err != nil {
		n.logger.Warn().Err(err).Str("kind", kind).Msg("Failed to send batch notification")
	}
}

// Orphans warns that objects were left in storage without a record.
func (n *Notifier) Orphans(count int) {
	if !n.IsEnabled() || count == 0 {
		return
	}
	message := fmt.Sprintf("%d stored object(s) have no file record. See the log for keys.", count)
	if err := n.deliver(appName+" warning", truncate(message, 100)); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to send orphan notification")
	}
}

func (n *Notifier) deliver(title, message string) error {
	n.mu.RLock()
	send := n.send
	n.mu.RUnlock()
	return send(title, message)
}

func beeepSend(title, message string) error {
	return beeep.Notify(title, message, "")
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortenPath abbreviates a long path to its last two components.
func shortenPath(path string) string {
	const maxLen = 60

	if len(path) <= maxLen {
		return path
	}

	_, file := filepath.Split(path)
	parentDir := filepath.Base(filepath.Dir(path))
	short := filepath.Join("...", parentDir, file)

	if len(short) > maxLen {
		return "..." + path[len(path)-(maxLen-3):]
	}
	return short
}
