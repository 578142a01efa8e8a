// Package broadcast defines the port for pushing real-time task events to
// connected clients.
package broadcast

import "context"

// Broadcaster routes task events to the clients watching them.
type Broadcaster interface {
	// BroadcastEvent sends a typed event for taskID. An empty taskID
	// reaches every client.
	BroadcastEvent(ctx context.Context, eventType, taskID string, payload any)
}
