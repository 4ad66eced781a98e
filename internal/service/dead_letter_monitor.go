// internal/service/dead_letter_monitor.go
package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/unclebandit/receipt-report-service/internal/telemetry"
)

// DeadLetterMonitor watches report.dlq.queue. Failures are already stored by
// the consumer, so it only logs and counts what arrives.
type DeadLetterMonitor struct {
	Log zerolog.Logger
}

func (m *DeadLetterMonitor) Handle(ctx context.Context, d amqp.Delivery) {
	m.Log.Warn().
		Str("message_id", d.MessageId).
		Str("routing_key", d.RoutingKey).
		Interface("headers", headerStrings(d.Headers)).
		Str("body", string(d.Body)).
		Msg("dead letter received")
	telemetry.DeadLettersObserved.Inc()

	if err := d.Ack(false); err != nil {
		m.Log.Error().Err(err).Msg("failed to ack dead letter")
	}
}

// headerStrings flattens header values for logging. Other publishers send
// strings as byte arrays.
func headerStrings(h amqp.Table) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		switch t := v.(type) {
		case []byte:
			out[k] = string(t)
		case string:
			out[k] = t
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}
