package broker

import (
	"context"
	"time"
)

// Broker is the message transport between producers and the worker pool.
type Broker interface {
	// Publish enqueues m on m.Queue for immediate delivery.
	Publish(ctx context.Context, m *Message) error

	// PublishAt enqueues m for delivery no earlier than at.
	PublishAt(ctx context.Context, m *Message, at time.Time) error

	// Consume blocks up to wait for a message from any of queues. It
	// returns nil, nil when nothing arrived in time.
	Consume(ctx context.Context, queues []string, wait time.Duration) (*Message, error)

	// Ack removes a consumed message from the broker.
	Ack(ctx context.Context, m *Message) error

	// DeadLetter parks a message whose retries are exhausted and
	// acknowledges the delivery.
	DeadLetter(ctx context.Context, m *Message, reason error) error

	// Close releases broker resources.
	Close() error
}
