package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/go-faster/errors"
	"github.com/golang-migrate/migrate/v4"

	"github.com/xenking/orderkeeper/internal/storage/postgres"
)

func main() {
	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() < 1 {
		slog.Error("usage: migrate [--database-url URL] <up|down|version>")
		os.Exit(1)
	}

	if err := run(databaseURL, flag.Arg(0)); err != nil {
		slog.Error("migrate failed", slog.String("command", flag.Arg(0)), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(databaseURL, command string) error {
	m, err := postgres.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	switch command {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("no pending migrations")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "migrate up")
		}
		slog.Info("migrations applied successfully")

	case "down":
		err = m.Steps(-1)
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("no migrations to roll back")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "migrate down")
		}
		slog.Info("migration rolled back successfully")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			slog.Info("no migrations applied yet")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read version")
		}
		slog.Info("current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))

	default:
		return errors.Errorf("unknown command %q", command)
	}
	return nil
}
