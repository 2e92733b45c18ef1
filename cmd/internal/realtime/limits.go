package realtime

import "time"

const (
	// Max bytes per inbound websocket frame.
	maxFrameBytes = 16 << 10 // 16 KiB

	// Heartbeat defaults (overridable by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Inbound events per connection per window.
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second

	// Bound on store calls made while a connection opens or closes.
	registryTimeout = 5 * time.Second
)
