// internal/service/worker.go
package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/unclebandit/receipt-report-service/internal/telemetry"
)

// Worker fans one delivery stream out to Concurrency goroutines. Each
// delivery is handled to completion by a single goroutine.
type Worker struct {
	Name        string
	Deliveries  <-chan amqp.Delivery
	Handle      func(ctx context.Context, d amqp.Delivery)
	Concurrency int
	Log         zerolog.Logger
}

// Start blocks until ctx is cancelled or the stream closes, then waits for
// in-flight handlers. Handlers get a context that is not cancelled on
// shutdown so a started request can finish and settle.
func (w *Worker) Start(ctx context.Context) error {
	n := w.Concurrency
	if n < 1 {
		n = 1
	}
	log := w.Log.With().Str("worker", w.Name).Logger()

	handleCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, handleCtx, log.With().Int("slot", id).Logger())
		}(i)
	}
	log.Info().Int("concurrency", n).Msg("worker started")

	wg.Wait()
	log.Info().Msg("worker stopped")
	return nil
}

func (w *Worker) loop(ctx, handleCtx context.Context, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-w.Deliveries:
			if !ok {
				return
			}
			w.handle(handleCtx, log, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, log zerolog.Logger, d amqp.Delivery) {
	telemetry.InFlight.Inc()
	defer telemetry.InFlight.Dec()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("message_id", d.MessageId).Msg("handler panicked, rejecting delivery")
			if err := d.Reject(false); err != nil {
				log.Error().Err(err).Msg("failed to reject delivery")
			}
		}
	}()
	w.Handle(ctx, d)
}
