// internal/service/report_producer.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	appErrors "github.com/unclebandit/receipt-report-service/internal/errors"
	"github.com/unclebandit/receipt-report-service/internal/model"
	"github.com/unclebandit/receipt-report-service/internal/queue"
	"github.com/unclebandit/receipt-report-service/internal/telemetry"
)

// DedupeGuard suppresses identical requests submitted close together.
type DedupeGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// ReportProducer queues report requests on report.exchange. Guard is
// optional.
type ReportProducer struct {
	Publisher queue.Publisher
	Guard     DedupeGuard
	Log       zerolog.Logger
}

// Submit publishes req and returns the message id once the broker has
// confirmed it. Requests are not validated here.
func (p *ReportProducer) Submit(ctx context.Context, req *model.ReportRequest) (string, error) {
	log := p.Log
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode report request: %w", err)
	}

	key := req.DedupKey()
	claimed := false
	if p.Guard != nil {
		ok, err := p.Guard.Claim(ctx, key)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("dedupe_key", key).Msg("dedupe guard unavailable, publishing anyway")
		case !ok:
			telemetry.DuplicatesRejected.Inc()
			return "", appErrors.NewDuplicateRequest(key)
		default:
			claimed = true
		}
	}

	id := uuid.NewString()
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := p.Publisher.Publish(ctx, queue.ReportExchange, queue.ReportRoutingKey, msg); err != nil {
		if claimed {
			if rerr := p.Guard.Release(ctx, key); rerr != nil {
				log.Warn().Err(rerr).Str("dedupe_key", key).Msg("failed to release dedupe key")
			}
		}
		return "", fmt.Errorf("publish report request: %w", err)
	}

	telemetry.ReportsSubmitted.Inc()
	log.Info().
		Str("request_id", id).
		Str("property", req.PropertyName).
		Int("year", req.Year).
		Str("format", req.Type().Code()).
		Msg("report request queued")
	return id, nil
}
