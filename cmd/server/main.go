// cmd/server/main.go
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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/receipt-report-service/internal/config"
	"github.com/unclebandit/receipt-report-service/internal/controller"
	"github.com/unclebandit/receipt-report-service/internal/db"
	"github.com/unclebandit/receipt-report-service/internal/dedupe"
	"github.com/unclebandit/receipt-report-service/internal/handler"
	"github.com/unclebandit/receipt-report-service/internal/logger"
	"github.com/unclebandit/receipt-report-service/internal/queue"
	"github.com/unclebandit/receipt-report-service/internal/repository"
	"github.com/unclebandit/receipt-report-service/internal/service"
	"github.com/unclebandit/receipt-report-service/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
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
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(conn, cfg.Database.MigrationsPath, log); err != nil {
			return err
		}
	}

	broker, err := queue.DialRabbit(cfg.RabbitMQ.URL, log)
	if err != nil {
		return err
	}
	defer broker.Close()
	if err := queue.DeclareTopology(broker); err != nil {
		return err
	}

	producer := &service.ReportProducer{Publisher: broker, Log: log}
	if cfg.Reports.DedupTTL > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		producer.Guard = dedupe.NewRedisGuard(rdb, cfg.Reports.DedupTTL)
		log.Info().Dur("ttl", cfg.Reports.DedupTTL).Str("redis", cfg.Redis.Addr).Msg("duplicate request guard enabled")
	}

	reports := &controller.ReportController{Producer: producer, Log: log}
	failures := handler.NewFailureRecordHandler(&repository.FailureRecordRepository{DB: conn}, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	reports.Routes(r)
	failures.Routes(r)
	r.Handle("/metrics", telemetry.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info().Msg("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
