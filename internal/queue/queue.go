// Package queue provides the durable SQS-backed message buffers between
// pipeline stages: the ready-volumes work queue, the audit feed and the
// inspection results feed.
package queue

import (
	"context"
)

// Message is one delivered queue message. Receipt is required to delete it.
type Message struct {
	ID      string
	Body    string
	Receipt string
}

// Client is the low-level message queue boundary. Delivery is at least once;
// consumers must tolerate duplicates.
type Client interface {
	// Send enqueues message bodies on the named queue.
	Send(ctx context.Context, queueName string, bodies []string) error

	// Receive pulls up to max messages from the named queue. Received
	// messages stay on the queue until deleted.
	Receive(ctx context.Context, queueName string, max int) ([]Message, error)

	// Delete removes a received message from the named queue.
	Delete(ctx context.Context, queueName string, receipt string) error
}
