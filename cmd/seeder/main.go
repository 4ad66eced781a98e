// cmd/seeder/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/unclebandit/receipt-report-service/internal/config"
	"github.com/unclebandit/receipt-report-service/internal/db"
	"github.com/unclebandit/receipt-report-service/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "seeder:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seeder:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	if err := db.Migrate(conn, cfg.Database.MigrationsPath, log); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	seedDir := "seed"
	if len(os.Args) > 1 {
		seedDir = os.Args[1]
	}
	// properties.sql sorts before receipts.sql, which references it
	files, err := filepath.Glob(filepath.Join(seedDir, "*.sql"))
	if err != nil {
		log.Fatal().Err(err).Msg("bad seed pattern")
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to read seed file")
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to execute seed file")
		}
		log.Info().Str("file", file).Msg("seeded")
	}

	log.Info().Int("files", len(files)).Msg("database seeding completed")
}
