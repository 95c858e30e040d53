// Package mqtt wraps autopaho behind the small client surface the push
// channel needs.
package mqtt

import (
	"context"
)

// MessageHandler processes one received message. Handlers of a client run
// one at a time, in arrival order.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// ConnectionState is the coarse state of the broker connection.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
)

type Client interface {
	// Start is non-blocking; use AwaitConnection to wait for the broker.
	Start(ctx context.Context) error

	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for a topic filter. Subscriptions are
	// restored after a reconnect.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	AwaitConnection(ctx context.Context) error

	IsConnected() bool
}
