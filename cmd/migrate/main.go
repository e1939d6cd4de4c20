package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/better-wallet/smart-account/internal/storage"
	"github.com/better-wallet/smart-account/migrations"
)

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
		direction = flag.String("direction", storage.MigrateUp, "Migration direction: up or down")
		steps     = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
		status    = flag.Bool("status", false, "List pending migrations and exit")
		timeout   = flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := storage.New(ctx, *dsn, storage.WithMaxConns(1))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if *status {
		err = printPending(ctx, store, os.Stdout)
	} else {
		err = migrate(ctx, store, os.Stdout, *direction, *steps)
	}
	if err != nil {
		store.Close()
		log.Fatal(err)
	}
}

func migrate(ctx context.Context, store *storage.Store, out io.Writer, direction string, steps int) error {
	ran, err := store.Migrate(ctx, migrations.FS, direction, steps)
	for _, version := range ran {
		fmt.Fprintf(out, "Applied migration: %s (%s)\n", version, direction)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if len(ran) == 0 {
		fmt.Fprintln(out, "No migrations to apply")
	} else {
		fmt.Fprintf(out, "Applied %d migration(s)\n", len(ran))
	}
	return nil
}

func printPending(ctx context.Context, store *storage.Store, out io.Writer) error {
	pending, err := store.PendingMigrations(ctx, migrations.FS)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(out, "Schema is up to date")
		return nil
	}
	for _, version := range pending {
		fmt.Fprintf(out, "Pending: %s\n", version)
	}
	return nil
}
