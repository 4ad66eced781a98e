// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/receipt-report-service/internal/config"
	"github.com/unclebandit/receipt-report-service/internal/db"
	"github.com/unclebandit/receipt-report-service/internal/email"
	"github.com/unclebandit/receipt-report-service/internal/logger"
	"github.com/unclebandit/receipt-report-service/internal/queue"
	"github.com/unclebandit/receipt-report-service/internal/report"
	"github.com/unclebandit/receipt-report-service/internal/repository"
	"github.com/unclebandit/receipt-report-service/internal/service"
	"github.com/unclebandit/receipt-report-service/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()

	mailer, err := email.NewSMTPSender(cfg.SMTP, log)
	if err != nil {
		return err
	}

	broker, err := queue.DialRabbit(cfg.RabbitMQ.URL, log)
	if err != nil {
		return err
	}
	defer broker.Close()
	if err := queue.DeclareTopology(broker); err != nil {
		return err
	}

	consumer := &service.ReportConsumer{
		Properties: &repository.PropertyRepository{DB: conn},
		Generators: report.NewRegistry(nil),
		Mailer:     mailer,
		Failures:   &repository.FailureRecordRepository{DB: conn},
		Publisher:  broker,
		MaxRetries: cfg.Reports.MaxRetries,
		Log:        log,
	}
	monitor := &service.DeadLetterMonitor{Log: log}

	metrics := &http.Server{
		Addr:              cfg.App.MetricsAddr,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// The broker is closed by the deferred Close only after g.Wait, so
	// handlers still running at shutdown can settle their deliveries.
	g, gctx := errgroup.WithContext(ctx)
	reports, err := broker.Consume(gctx, queue.ReportQueue, cfg.Reports.WorkerConcurrency)
	if err != nil {
		return err
	}
	deadLetters, err := broker.Consume(gctx, queue.DeadLetterQueue, 1)
	if err != nil {
		return err
	}

	g.Go(func() error {
		w := &service.Worker{
			Name:        "report",
			Deliveries:  reports,
			Handle:      consumer.Handle,
			Concurrency: cfg.Reports.WorkerConcurrency,
			Log:         log,
		}
		return w.Start(gctx)
	})
	g.Go(func() error {
		w := &service.Worker{
			Name:        "dead-letter",
			Deliveries:  deadLetters,
			Handle:      monitor.Handle,
			Concurrency: 1,
			Log:         log,
		}
		return w.Start(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", metrics.Addr).Msg("metrics listening")
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metrics.Shutdown(shutdownCtx)
	})

	log.Info().
		Int("concurrency", cfg.Reports.WorkerConcurrency).
		Int("max_retries", cfg.Reports.MaxRetries).
		Msg("worker running, waiting for report requests")
	return g.Wait()
}
