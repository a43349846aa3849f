// Package memory provides an in-memory notifier for tests and single-node
// deployments without a broker.
package memory

import (
	"context"
	"sync"

	"github.com/memharbor/memharbor/internal/domain/forensics"
)

var _ forensics.Notifier = (*Notifier)(nil)

// Notifier records notifications in order of delivery.
type Notifier struct {
	mu            sync.Mutex
	notifications []forensics.Notification
}

// NewNotifier creates an empty in-memory notifier.
func NewNotifier() *Notifier { return &Notifier{} }

// Notify records the notification.
func (n *Notifier) Notify(_ context.Context, notification forensics.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
}

// Notifications returns a copy of everything delivered so far.
func (n *Notifier) Notifications() []forensics.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]forensics.Notification, len(n.notifications))
	copy(out, n.notifications)
	return out
}
