// internal/queue/topology.go
package queue

import (
	"fmt"

	"github.com/streadway/amqp"
)

const (
	ReportExchange   = "report.exchange"
	ReportQueue      = "report.queue"
	ReportRoutingKey = "report.generate"

	DeadLetterExchange   = "report.dlq.exchange"
	DeadLetterQueue      = "report.dlq.queue"
	DeadLetterRoutingKey = "report.dlq"

	HeaderRetryCount       = "x-retry-count"
	HeaderOriginalProperty = "original-property"
	HeaderOriginalYear     = "original-year"
	HeaderFailedTimestamp  = "failed-timestamp"

	argDeadLetterExchange   = "x-dead-letter-exchange"
	argDeadLetterRoutingKey = "x-dead-letter-routing-key"
)

// TopologyDeclarer is the subset of *amqp.Channel used to declare exchanges
// and queues.
type TopologyDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareTopology creates the report and dead-letter exchanges and queues.
// Rejected report messages are routed to the dead-letter exchange by the
// broker. Declaring is idempotent.
func DeclareTopology(ch TopologyDeclarer) error {
	for _, ex := range []string{ReportExchange, DeadLetterExchange} {
		if err := ch.ExchangeDeclare(ex, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	reportArgs := amqp.Table{
		argDeadLetterExchange:   DeadLetterExchange,
		argDeadLetterRoutingKey: DeadLetterRoutingKey,
	}
	if _, err := ch.QueueDeclare(ReportQueue, true, false, false, false, reportArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", ReportQueue, err)
	}
	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", DeadLetterQueue, err)
	}

	if err := ch.QueueBind(ReportQueue, ReportRoutingKey, ReportExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", ReportQueue, err)
	}
	if err := ch.QueueBind(DeadLetterQueue, DeadLetterRoutingKey, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", DeadLetterQueue, err)
	}
	return nil
}
