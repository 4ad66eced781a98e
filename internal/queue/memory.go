// internal/queue/memory.go
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// InMemoryQueue is a single-process broker with RabbitMQ semantics close
// enough for tests and local runs: exact-key bindings, manual acks, requeue
// on nack and dead-lettering through a queue's x-dead-letter-exchange.
type InMemoryQueue struct {
	mu        sync.Mutex
	buffer    int
	closed    bool
	tag       uint64
	exchanges map[string]struct{}
	queues    map[string]*memQueue
	bindings  map[binding][]string
	stats     MemoryStats
}

type binding struct {
	exchange string
	key      string
}

type memQueue struct {
	name     string
	dlx      string
	dlKey    string
	messages chan amqp.Delivery
}

// MemoryStats counts how deliveries were settled.
type MemoryStats struct {
	Published    int
	Acked        int
	Requeued     int
	DeadLettered int
	Dropped      int
}

// NewInMemoryQueue creates a broker whose queues hold up to buffer
// unconsumed messages each.
func NewInMemoryQueue(buffer int) *InMemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &InMemoryQueue{
		buffer:    buffer,
		exchanges: make(map[string]struct{}),
		queues:    make(map[string]*memQueue),
		bindings:  make(map[binding][]string),
	}
}

func (q *InMemoryQueue) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.exchanges[name] = struct{}{}
	return nil
}

func (q *InMemoryQueue) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	mq, ok := q.queues[name]
	if !ok {
		mq = &memQueue{name: name, messages: make(chan amqp.Delivery, q.buffer)}
		q.queues[name] = mq
	}
	if dlx, ok := args[argDeadLetterExchange].(string); ok {
		mq.dlx = dlx
	}
	if key, ok := args[argDeadLetterRoutingKey].(string); ok {
		mq.dlKey = key
	}
	return amqp.Queue{Name: name, Messages: len(mq.messages)}, nil
}

func (q *InMemoryQueue) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queues[name]; !ok {
		return fmt.Errorf("bind: queue %q not declared", name)
	}
	if _, ok := q.exchanges[exchange]; !ok {
		return fmt.Errorf("bind: exchange %q not declared", exchange)
	}
	b := binding{exchange: exchange, key: key}
	for _, existing := range q.bindings[b] {
		if existing == name {
			return nil
		}
	}
	q.bindings[b] = append(q.bindings[b], name)
	return nil
}

// Publish routes msg to every queue bound to exchange with routingKey. A
// message that matches no binding is an error so tests notice topology
// mistakes.
func (q *InMemoryQueue) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.routeLocked(exchange, routingKey, msg, false)
}

func (q *InMemoryQueue) routeLocked(exchange, routingKey string, msg amqp.Publishing, redelivered bool) error {
	if q.closed {
		return ErrClosed
	}
	names := q.bindings[binding{exchange: exchange, key: routingKey}]
	if len(names) == 0 {
		return fmt.Errorf("no queue bound to %s with key %s", exchange, routingKey)
	}

	for _, name := range names {
		mq := q.queues[name]
		q.tag++
		d := amqp.Delivery{
			Acknowledger:    &memAck{broker: q, queue: mq, exchange: exchange, routingKey: routingKey, msg: msg},
			Headers:         copyTable(msg.Headers),
			ContentType:     msg.ContentType,
			ContentEncoding: msg.ContentEncoding,
			DeliveryMode:    msg.DeliveryMode,
			Priority:        msg.Priority,
			CorrelationId:   msg.CorrelationId,
			ReplyTo:         msg.ReplyTo,
			Expiration:      msg.Expiration,
			MessageId:       msg.MessageId,
			Timestamp:       msg.Timestamp,
			Type:            msg.Type,
			UserId:          msg.UserId,
			AppId:           msg.AppId,
			DeliveryTag:     q.tag,
			Redelivered:     redelivered,
			Exchange:        exchange,
			RoutingKey:      routingKey,
			Body:            append([]byte(nil), msg.Body...),
		}
		select {
		case mq.messages <- d:
		default:
			q.stats.Dropped++
			return fmt.Errorf("queue %s is full", name)
		}
	}
	if !redelivered {
		q.stats.Published++
	}
	return nil
}

// Consume returns the queue's delivery stream. The in-memory broker keeps a
// single stream per queue, so concurrent consumers share it.
func (q *InMemoryQueue) Consume(ctx context.Context, queueName string, prefetch int) (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	mq, ok := q.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("consume: queue %q not declared", queueName)
	}
	return mq.messages, nil
}

// Len reports how many messages are waiting in a queue.
func (q *InMemoryQueue) Len(queueName string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if mq, ok := q.queues[queueName]; ok {
		return len(mq.messages)
	}
	return 0
}

// Drain removes and returns every waiting message in a queue without
// settling them. It also works after Close.
func (q *InMemoryQueue) Drain(queueName string) []amqp.Delivery {
	q.mu.Lock()
	mq, ok := q.queues[queueName]
	q.mu.Unlock()
	if !ok {
		return nil
	}
	var out []amqp.Delivery
	for {
		select {
		case d, ok := <-mq.messages:
			if !ok {
				return out
			}
			out = append(out, d)
		default:
			return out
		}
	}
}

func (q *InMemoryQueue) Stats() MemoryStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Close stops routing and closes every delivery stream.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, mq := range q.queues {
		close(mq.messages)
	}
	return nil
}

func (q *InMemoryQueue) settle(a *memAck, requeue bool, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if a.settled {
		return fmt.Errorf("delivery already settled")
	}
	a.settled = true

	switch {
	case reason == "":
		q.stats.Acked++
		return nil
	case requeue:
		q.stats.Requeued++
		return q.requeueLocked(a)
	case a.queue.dlx == "":
		q.stats.Dropped++
		return nil
	default:
		q.stats.DeadLettered++
		msg := a.msg
		msg.Headers = copyTable(a.msg.Headers)
		msg.Headers["x-first-death-queue"] = a.queue.name
		msg.Headers["x-first-death-reason"] = reason
		msg.Headers["x-first-death-exchange"] = a.exchange
		key := a.queue.dlKey
		if key == "" {
			key = a.routingKey
		}
		return q.routeLocked(a.queue.dlx, key, msg, false)
	}
}

func (q *InMemoryQueue) requeueLocked(a *memAck) error {
	if q.closed {
		return ErrClosed
	}
	q.tag++
	d := amqp.Delivery{
		Acknowledger: &memAck{broker: q, queue: a.queue, exchange: a.exchange, routingKey: a.routingKey, msg: a.msg},
		Headers:      copyTable(a.msg.Headers),
		ContentType:  a.msg.ContentType,
		DeliveryMode: a.msg.DeliveryMode,
		MessageId:    a.msg.MessageId,
		Timestamp:    a.msg.Timestamp,
		DeliveryTag:  q.tag,
		Redelivered:  true,
		Exchange:     a.exchange,
		RoutingKey:   a.routingKey,
		Body:         append([]byte(nil), a.msg.Body...),
	}
	select {
	case a.queue.messages <- d:
		return nil
	default:
		q.stats.Dropped++
		return fmt.Errorf("queue %s is full", a.queue.name)
	}
}

// memAck settles one delivery. Settling twice is an error, as it is on a
// real channel.
type memAck struct {
	broker     *InMemoryQueue
	queue      *memQueue
	exchange   string
	routingKey string
	msg        amqp.Publishing
	settled    bool
}

func (a *memAck) Ack(tag uint64, multiple bool) error {
	return a.broker.settle(a, false, "")
}

func (a *memAck) Nack(tag uint64, multiple bool, requeue bool) error {
	return a.broker.settle(a, requeue, "rejected")
}

func (a *memAck) Reject(tag uint64, requeue bool) error {
	return a.broker.settle(a, requeue, "rejected")
}

func copyTable(t amqp.Table) amqp.Table {
	out := make(amqp.Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
