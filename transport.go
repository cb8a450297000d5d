package mcpgateway

import "context"

// Transport is the byte-oriented pipe to one backend, provided by the
// surrounding gateway. How the bytes move (child process stdio, streaming
// HTTP, socket) is the transport layer's business; this core only frames
// JSON-RPC messages over it. Send and Receive must be safe for one concurrent
// sender and one concurrent receiver.
type Transport interface {
	// Send writes one complete JSON-RPC message.
	Send(ctx context.Context, payload []byte) error
	// Receive blocks until the next complete JSON-RPC message arrives.
	Receive(ctx context.Context) ([]byte, error)
	// Close tears the pipe down; pending Receive calls return an error.
	Close() error
}

// NotificationHandler receives backend-originated notifications after
// translation. Notifications the target revision cannot express never reach
// it; they are dropped, counted and logged inside the adapter.
type NotificationHandler func(serverName string, n *Notification)
