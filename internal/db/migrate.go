package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type migrationLogger struct {
	log zerolog.Logger
}

func (l migrationLogger) Printf(format string, v ...any) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrationLogger) Verbose() bool {
	return l.log.GetLevel() <= zerolog.DebugLevel
}

// Migrate applies every pending up migration found in dir. A database that
// is already current is not an error.
func Migrate(conn *sqlx.DB, dir string, log zerolog.Logger) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve migrations path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("migrations folder %s: %w", abs, err)
	}

	driver, err := postgres.WithInstance(conn.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+abs, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = migrationLogger{log: log}

	before, _, _ := m.Version()
	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Info().Uint("version", before).Msg("no new migrations to apply")
		return nil
	case err != nil:
		version, dirty, _ := m.Version()
		log.Error().Err(err).Uint("version", version).Bool("dirty", dirty).Msg("migration failed")
		return fmt.Errorf("apply migrations: %w", err)
	}

	after, _, _ := m.Version()
	log.Info().Uint("from", before).Uint("to", after).Msg("migrations applied")
	return nil
}
