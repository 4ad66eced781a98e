// internal/queue/queue.go
package queue

import (
	"context"
	"errors"

	"github.com/streadway/amqp"
)

// ErrClosed is returned when publishing to or consuming from a closed broker.
var ErrClosed = errors.New("queue: broker closed")

// Publisher sends a message to an exchange and returns once the broker has
// taken responsibility for it.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// Consumer opens a manual-ack delivery stream on a queue. The stream closes
// when ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, queue string, prefetch int) (<-chan amqp.Delivery, error)
}

// Broker is what the binaries need from a message broker.
type Broker interface {
	Publisher
	Consumer
	TopologyDeclarer
	Close() error
}
