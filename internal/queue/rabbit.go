// internal/queue/rabbit.go
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// RabbitQueue publishes with publisher confirms on a dedicated channel and
// opens one channel per consumer.
type RabbitQueue struct {
	conn *amqp.Connection
	log  zerolog.Logger

	mu        sync.Mutex
	pubCh     *amqp.Channel
	confirms  chan amqp.Confirmation
	published uint64

	consumerMu sync.Mutex
	consumers  []consumeChannel
}

// DialRabbit connects to the broker and puts the publishing channel into
// confirm mode.
func DialRabbit(url string, log zerolog.Logger) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	q := &RabbitQueue{
		conn:     conn,
		log:      log.With().Str("component", "rabbitmq").Logger(),
		pubCh:    ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 64)),
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			q.log.Error().Err(err).Msg("rabbitmq connection closed")
		}
	}()

	return q, nil
}

func (q *RabbitQueue) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pubCh.ExchangeDeclare(name, kind, durable, autoDelete, internal, noWait, args)
}

func (q *RabbitQueue) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pubCh.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

func (q *RabbitQueue) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pubCh.QueueBind(name, key, exchange, noWait, args)
}

// Publish sends msg and blocks until the broker confirms it. Publishes are
// serialized so confirmations can be matched by delivery tag.
func (q *RabbitQueue) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.pubCh.Publish(exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}
	q.published++
	tag := q.published

	for {
		select {
		case conf, ok := <-q.confirms:
			if !ok {
				return ErrClosed
			}
			// Confirms left over from a publish whose caller gave up.
			if conf.DeliveryTag < tag {
				continue
			}
			if !conf.Ack {
				return fmt.Errorf("broker nacked message to %s/%s", exchange, routingKey)
			}
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for publish confirm: %w", ctx.Err())
		}
	}
}

// consumeChannel is the part of *amqp.Channel a consumer uses. Deliveries
// are settled through the same channel, so it has to stay open until every
// handler is done.
type consumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// Consume opens a channel with the given prefetch and starts a manual-ack
// consumer on queueName. Cancelling ctx stops new deliveries and closes the
// returned stream, but the channel stays open so in-flight deliveries can
// still be acked. Close releases it.
func (q *RabbitQueue) Consume(ctx context.Context, queueName string, prefetch int) (<-chan amqp.Delivery, error) {
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	return q.startConsumer(ctx, ch, queueName, prefetch)
}

func (q *RabbitQueue) startConsumer(ctx context.Context, ch consumeChannel, queueName string, prefetch int) (<-chan amqp.Delivery, error) {
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("set prefetch: %w", err)
		}
	}

	tag := queueName + "-" + uuid.NewString()
	deliveries, err := ch.Consume(queueName, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume %s: %w", queueName, err)
	}

	q.consumerMu.Lock()
	q.consumers = append(q.consumers, ch)
	q.consumerMu.Unlock()

	go func() {
		<-ctx.Done()
		if err := ch.Cancel(tag, false); err != nil && err != amqp.ErrClosed {
			q.log.Warn().Err(err).Str("queue", queueName).Msg("cancel consumer")
		}
	}()

	q.log.Info().Str("queue", queueName).Str("consumer", tag).Int("prefetch", prefetch).Msg("consumer started")
	return deliveries, nil
}

// closeConsumers closes every consumer channel. Unacked deliveries go back
// to the broker.
func (q *RabbitQueue) closeConsumers() {
	q.consumerMu.Lock()
	defer q.consumerMu.Unlock()
	for _, ch := range q.consumers {
		if err := ch.Close(); err != nil && err != amqp.ErrClosed {
			q.log.Warn().Err(err).Msg("close consumer channel")
		}
	}
	q.consumers = nil
}

// Close closes consumer channels, then the publish channel and the
// connection. Call it only after the workers reading from Consume have
// returned.
func (q *RabbitQueue) Close() error {
	q.closeConsumers()

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.pubCh.Close(); err != nil && err != amqp.ErrClosed {
		q.log.Warn().Err(err).Msg("close publish channel")
	}
	return q.conn.Close()
}
