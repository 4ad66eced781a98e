package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/receipt-report-service/internal/queue"
)

type recordingDeclarer struct {
	exchanges []string
	queues    map[string]amqp.Table
	binds     [][3]string
	failOn    string
}

func (r *recordingDeclarer) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if r.failOn == name {
		return errors.New("boom")
	}
	r.exchanges = append(r.exchanges, name+":"+kind)
	return nil
}

func (r *recordingDeclarer) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if r.failOn == name {
		return amqp.Queue{}, errors.New("boom")
	}
	if r.queues == nil {
		r.queues = map[string]amqp.Table{}
	}
	r.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (r *recordingDeclarer) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	r.binds = append(r.binds, [3]string{exchange, key, name})
	return nil
}

func TestDeclareTopology(t *testing.T) {
	rec := &recordingDeclarer{}
	require.NoError(t, queue.DeclareTopology(rec))

	assert.ElementsMatch(t, []string{"report.exchange:topic", "report.dlq.exchange:topic"}, rec.exchanges)
	assert.Equal(t, "report.dlq.exchange", rec.queues["report.queue"]["x-dead-letter-exchange"])
	assert.Equal(t, "report.dlq", rec.queues["report.queue"]["x-dead-letter-routing-key"])
	assert.Contains(t, rec.queues, "report.dlq.queue")
	assert.ElementsMatch(t, [][3]string{
		{"report.exchange", "report.generate", "report.queue"},
		{"report.dlq.exchange", "report.dlq", "report.dlq.queue"},
	}, rec.binds)
}

func TestDeclareTopologyError(t *testing.T) {
	err := queue.DeclareTopology(&recordingDeclarer{failOn: "report.queue"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report.queue")
}

func TestRetryCount(t *testing.T) {
	cases := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"absent", nil, 0},
		{"int32", amqp.Table{"x-retry-count": int32(2)}, 2},
		{"int64", amqp.Table{"x-retry-count": int64(1)}, 1},
		{"int", amqp.Table{"x-retry-count": 3}, 3},
		{"uint8", amqp.Table{"x-retry-count": uint8(4)}, 4},
		{"string", amqp.Table{"x-retry-count": "2"}, 2},
		{"garbage", amqp.Table{"x-retry-count": "two"}, 0},
		{"negative", amqp.Table{"x-retry-count": int32(-1)}, 0},
		{"wrong type", amqp.Table{"x-retry-count": true}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, queue.RetryCount(tc.headers))
		})
	}
}

func TestWithRetryCountCopies(t *testing.T) {
	orig := amqp.Table{"trace": "abc"}
	out := queue.WithRetryCount(orig, 2)

	assert.Equal(t, 2, queue.RetryCount(out))
	assert.Equal(t, "abc", out["trace"])
	assert.NotContains(t, orig, "x-retry-count")
}

func newTopology(t *testing.T) *queue.InMemoryQueue {
	t.Helper()
	q := queue.NewInMemoryQueue(16)
	require.NoError(t, queue.DeclareTopology(q))
	return q
}

func TestInMemoryPublishAndAck(t *testing.T) {
	q := newTopology(t)
	ctx := context.Background()

	err := q.Publish(ctx, queue.ReportExchange, queue.ReportRoutingKey, amqp.Publishing{
		Body:      []byte(`{"property_name":"Main Building"}`),
		MessageId: "m-1",
		Headers:   amqp.Table{"x-retry-count": int32(1)},
	})
	require.NoError(t, err)

	deliveries, err := q.Consume(ctx, queue.ReportQueue, 1)
	require.NoError(t, err)

	d := <-deliveries
	assert.Equal(t, "m-1", d.MessageId)
	assert.Equal(t, queue.ReportRoutingKey, d.RoutingKey)
	assert.Equal(t, 1, queue.RetryCount(d.Headers))
	require.NoError(t, d.Ack(false))
	assert.Error(t, d.Ack(false), "double ack")

	stats := q.Stats()
	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, 1, stats.Acked)
}

func TestInMemoryUnroutable(t *testing.T) {
	q := newTopology(t)
	err := q.Publish(context.Background(), queue.ReportExchange, "nowhere", amqp.Publishing{Body: []byte("x")})
	assert.Error(t, err)
}

func TestInMemoryNackRequeues(t *testing.T) {
	q := newTopology(t)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, queue.ReportExchange, queue.ReportRoutingKey, amqp.Publishing{Body: []byte("x")}))

	deliveries, err := q.Consume(ctx, queue.ReportQueue, 1)
	require.NoError(t, err)

	first := <-deliveries
	assert.False(t, first.Redelivered)
	require.NoError(t, first.Nack(false, true))

	second := <-deliveries
	assert.True(t, second.Redelivered)
	assert.Equal(t, []byte("x"), second.Body)
	require.NoError(t, second.Ack(false))
	assert.Equal(t, 1, q.Stats().Requeued)
}

func TestInMemoryRejectDeadLetters(t *testing.T) {
	q := newTopology(t)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, queue.ReportExchange, queue.ReportRoutingKey, amqp.Publishing{Body: []byte("not json")}))

	deliveries, err := q.Consume(ctx, queue.ReportQueue, 1)
	require.NoError(t, err)
	d := <-deliveries
	require.NoError(t, d.Reject(false))

	dead := q.Drain(queue.DeadLetterQueue)
	require.Len(t, dead, 1)
	assert.Equal(t, []byte("not json"), dead[0].Body)
	assert.Equal(t, queue.DeadLetterRoutingKey, dead[0].RoutingKey)
	assert.Equal(t, queue.ReportQueue, dead[0].Headers["x-first-death-queue"])
	assert.Equal(t, 1, q.Stats().DeadLettered)
	assert.Zero(t, q.Len(queue.ReportQueue))
}

func TestInMemoryFullQueue(t *testing.T) {
	q := queue.NewInMemoryQueue(1)
	require.NoError(t, queue.DeclareTopology(q))
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, queue.ReportExchange, queue.ReportRoutingKey, amqp.Publishing{Body: []byte("1")}))
	assert.Error(t, q.Publish(ctx, queue.ReportExchange, queue.ReportRoutingKey, amqp.Publishing{Body: []byte("2")}))
}

func TestInMemoryClose(t *testing.T) {
	q := newTopology(t)
	ctx := context.Background()
	deliveries, err := q.Consume(ctx, queue.ReportQueue, 1)
	require.NoError(t, err)

	require.NoError(t, q.Close())
	_, open := <-deliveries
	assert.False(t, open)
	assert.ErrorIs(t, q.Publish(ctx, queue.ReportExchange, queue.ReportRoutingKey, amqp.Publishing{}), queue.ErrClosed)
}

func TestInMemoryDrainAfterClose(t *testing.T) {
	q := newTopology(t)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, queue.ReportExchange, queue.ReportRoutingKey, amqp.Publishing{Body: []byte("a")}))
	require.NoError(t, q.Publish(ctx, queue.ReportExchange, queue.ReportRoutingKey, amqp.Publishing{Body: []byte("b")}))
	require.NoError(t, q.Close())

	done := make(chan []amqp.Delivery, 1)
	go func() { done <- q.Drain(queue.ReportQueue) }()

	select {
	case got := <-done:
		require.Len(t, got, 2)
		assert.Equal(t, []byte("a"), got[0].Body)
		assert.Equal(t, []byte("b"), got[1].Body)
	case <-time.After(time.Second):
		t.Fatal("Drain did not return on a closed queue")
	}
}
