// internal/service/report_consumer.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/unclebandit/receipt-report-service/internal/email"
	appErrors "github.com/unclebandit/receipt-report-service/internal/errors"
	"github.com/unclebandit/receipt-report-service/internal/model"
	"github.com/unclebandit/receipt-report-service/internal/queue"
	"github.com/unclebandit/receipt-report-service/internal/report"
	"github.com/unclebandit/receipt-report-service/internal/repository"
	"github.com/unclebandit/receipt-report-service/internal/telemetry"
)

const DefaultMaxRetries = 3

// Stage names where a request was when processing stopped.
type Stage string

const (
	StageReceived          Stage = "RECEIVED"
	StageResolvingProperty Stage = "RESOLVING_PROPERTY"
	StageResolvingReceipts Stage = "RESOLVING_RECEIPTS"
	StageRendering         Stage = "RENDERING"
	StageDelivering        Stage = "DELIVERING"
	StageDone              Stage = "DONE"
	StageRetryScheduled    Stage = "RETRY_SCHEDULED"
	StageFailedTerminal    Stage = "FAILED_TERMINAL"
)

// GeneratorResolver picks the renderer for a report format.
type GeneratorResolver interface {
	ForType(t model.ReportType) (report.Generator, error)
}

// ReportConsumer turns report requests from report.queue into emailed
// reports. Failures are retried by republishing with an incremented
// x-retry-count until MaxRetries attempts have been made, after which a
// failure record and a dead-letter message are written.
type ReportConsumer struct {
	Properties repository.PropertyRepositoryInterface
	Generators GeneratorResolver
	Mailer     email.Sender
	Failures   repository.FailureRecordRepositoryInterface
	Publisher  queue.Publisher
	MaxRetries int
	Now        func() time.Time
	Log        zerolog.Logger
}

func (c *ReportConsumer) maxRetries() int {
	if c.MaxRetries < 1 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

func (c *ReportConsumer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Handle processes one delivery and always settles it.
func (c *ReportConsumer) Handle(ctx context.Context, d amqp.Delivery) {
	retryCount := queue.RetryCount(d.Headers)
	maxRetries := c.maxRetries()

	var req model.ReportRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		c.Log.Warn().Err(err).Str("message_id", d.MessageId).Bytes("body", d.Body).Msg("undecodable report request, rejecting")
		telemetry.ReportsMalformed.Inc()
		c.settle(d.Reject(false), "reject")
		return
	}

	log := c.Log.With().
		Str("message_id", d.MessageId).
		Str("property", req.PropertyName).
		Int("year", req.Year).
		Str("format", req.Type().Code()).
		Int("attempt", retryCount+1).
		Int("max_attempts", maxRetries).
		Logger()
	log.Info().Str("stage", string(StageReceived)).Msg("processing report request")

	stage, err := c.processSafely(ctx, &req)
	switch {
	case err == nil:
		log.Info().Str("stage", string(stage)).Str("to", req.UserEmail).Msg("report sent")
		telemetry.ReportsDelivered.WithLabelValues(req.Type().Code()).Inc()
		c.settle(d.Ack(false), "ack")

	case appErrors.IsNotFound(err):
		log.Warn().Str("stage", string(stage)).Err(err).Msg("report request cannot be fulfilled")
		telemetry.ReportsNotFound.Inc()
		c.notify(ctx, log, &req, err.Error())
		c.settle(d.Ack(false), "ack")

	case retryCount+1 < maxRetries:
		log.Warn().Str("stage", string(stage)).Err(err).Msg("report attempt failed, scheduling retry")
		c.retry(ctx, log, d, &req, err, retryCount+1)

	default:
		log.Error().Str("stage", string(stage)).Err(err).Msg("report attempts exhausted")
		c.failTerminal(ctx, log, &req, err, maxRetries)
		c.settle(d.Ack(false), "ack")
	}
}

// processSafely turns a panic in a collaborator into an ordinary error so
// it is retried and recorded like any other fault.
func (c *ReportConsumer) processSafely(ctx context.Context, req *model.ReportRequest) (stage Stage, err error) {
	stage = StageReceived
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.process(ctx, req)
}

// process walks a request through lookup, rendering and delivery. The stage
// returned is the one that failed, or StageDone. Collaborator errors are
// returned unwrapped so the failure record keeps the original message.
func (c *ReportConsumer) process(ctx context.Context, req *model.ReportRequest) (Stage, error) {
	properties, err := c.Properties.ListAll(ctx)
	if err != nil {
		return StageResolvingProperty, err
	}
	property := findProperty(properties, req.PropertyName)
	if property == nil {
		return StageResolvingProperty, appErrors.NewPropertyNotFound(req.PropertyName)
	}

	all, err := c.Properties.ListAllocations(ctx, property.ID)
	if err != nil {
		return StageResolvingReceipts, err
	}
	items := model.AllocationsForYear(all, req.Year)
	if len(items) == 0 {
		return StageResolvingReceipts, appErrors.NewNoReceipts(property.Name, req.Year)
	}

	reportType := req.Type()
	gen, err := c.Generators.ForType(reportType)
	if err != nil {
		return StageRendering, err
	}
	rendered, err := report.Render(gen, property, req.Year, items)
	if err != nil {
		return StageRendering, err
	}

	body, err := renderReportEmail(reportType, property, req.Year, items, c.now())
	if err != nil {
		return StageDelivering, err
	}
	msg := &email.Message{
		To:       []string{req.UserEmail},
		Subject:  reportSubject(reportType, property.Name, req.Year),
		HTMLBody: body,
		Attachments: []email.Attachment{{
			Filename:    reportFileName(property.Name, req.Year, rendered.Extension),
			ContentType: rendered.MimeType,
			Content:     rendered.Content,
		}},
	}
	if err := c.Mailer.Send(ctx, msg); err != nil {
		return StageDelivering, err
	}
	return StageDone, nil
}

// findProperty returns the first property whose name matches, ignoring case.
func findProperty(properties []model.Property, name string) *model.Property {
	for i := range properties {
		if strings.EqualFold(properties[i].Name, name) {
			return &properties[i]
		}
	}
	return nil
}

// retry republishes the original body with the next retry count. If the
// republish fails the delivery goes back to the broker once; a delivery the
// broker already returned is failed terminally instead, so a broken
// publisher cannot loop a request forever.
func (c *ReportConsumer) retry(ctx context.Context, log zerolog.Logger, d amqp.Delivery, req *model.ReportRequest, cause error, next int) {
	contentType := d.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	msg := amqp.Publishing{
		Headers:      queue.WithRetryCount(d.Headers, next),
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    c.now().UTC(),
		Body:         d.Body,
	}
	if err := c.Publisher.Publish(ctx, queue.ReportExchange, queue.ReportRoutingKey, msg); err != nil {
		telemetry.RetryPublishFailures.Inc()
		if d.Redelivered {
			log.Error().Err(err).Msg("republish for retry failed again, giving up")
			c.failTerminal(ctx, log, req, cause, next)
			c.settle(d.Ack(false), "ack")
			return
		}
		log.Error().Err(err).Msg("republish for retry failed, returning delivery to the broker")
		c.settle(d.Nack(false, true), "nack")
		return
	}
	telemetry.ReportRetries.Inc()
	log.Info().Str("stage", string(StageRetryScheduled)).Int("retry_count", next).Msg("report request requeued")
	c.settle(d.Ack(false), "ack")
}

// failTerminal records the failure, publishes the dead-letter notice and
// tells the user. None of these steps stop the others.
func (c *ReportConsumer) failTerminal(ctx context.Context, log zerolog.Logger, req *model.ReportRequest, cause error, attempts int) {
	failedAt := c.now()
	year := req.Year

	if rec, err := c.Failures.Create(ctx, req.PropertyName, &year, cause.Error(), failedAt); err != nil {
		log.Error().Err(err).Msg("failed to save failure record")
	} else {
		log.Info().Int64("failure_record_id", rec.ID).Msg("failure record saved")
	}

	body := fmt.Sprintf("Failed report request for property: %s, Year: %d, Error: %s, Timestamp: %s",
		req.PropertyName, req.Year, cause.Error(), failedAt.Format(time.RFC3339))
	msg := amqp.Publishing{
		Headers: amqp.Table{
			queue.HeaderOriginalProperty: req.PropertyName,
			queue.HeaderOriginalYear:     strconv.Itoa(req.Year),
			queue.HeaderFailedTimestamp:  failedAt.Format(time.RFC3339),
		},
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Timestamp:    failedAt.UTC(),
		Body:         []byte(body),
	}
	if err := c.Publisher.Publish(ctx, queue.DeadLetterExchange, queue.DeadLetterRoutingKey, msg); err != nil {
		log.Error().Err(err).Msg("failed to publish dead-letter message")
	}
	telemetry.ReportsDeadLettered.Inc()
	log.Info().Str("stage", string(StageFailedTerminal)).Msg("report request dead-lettered")

	c.notify(ctx, log, req, fmt.Sprintf("Error generating report after %d attempts: %s", attempts, cause.Error()))
}

// notify emails the requester about a failure. Delivery problems are logged
// and counted, never returned.
func (c *ReportConsumer) notify(ctx context.Context, log zerolog.Logger, req *model.ReportRequest, message string) {
	body, err := renderErrorEmail(req.PropertyName, message)
	if err == nil {
		err = c.Mailer.Send(ctx, &email.Message{
			To:       []string{req.UserEmail},
			Subject:  errorSubject(req.PropertyName),
			HTMLBody: body,
		})
	}
	if err != nil {
		telemetry.NotificationFailures.Inc()
		log.Warn().Err(err).Str("to", req.UserEmail).Msg("failed to send error notification")
	}
}

func (c *ReportConsumer) settle(err error, op string) {
	if err != nil {
		c.Log.Error().Err(err).Str("op", op).Msg("failed to settle delivery")
	}
}
