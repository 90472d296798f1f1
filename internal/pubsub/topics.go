package pubsub

import "fmt"

// Topic constants and helper functions for broker channels.
// Wake channels are fixed, singleton topics; the SSE channel is per-user.

const (
	// WakeObserverTopic hints the Observer loop to poll immediately instead
	// of waiting out its idle interval.
	WakeObserverTopic = "codehub:wake:ob"

	// WakeControllerTopic hints the Workspace Controller loop to tick
	// immediately.
	WakeControllerTopic = "codehub:wake:wc"

	// ActivityKey names the broker-resident ordered set that proxies flush
	// activity timestamps into (ZADD ... GT), drained by the TTL loop.
	ActivityKey = "codehub:activity"

	prefixSSE = "codehub:sse"
)

// SSETopic returns the per-user topic consumed by SSE clients.
// Subscribers receive WorkspaceUpdated / WorkspaceDeleted / Heartbeat events.
func SSETopic(userID string) string {
	return fmt.Sprintf("%s:%s", prefixSSE, userID)
}
