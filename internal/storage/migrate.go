package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/better-wallet/smart-account/internal/logger"
)

// Migration directions
const (
	MigrateUp   = "up"
	MigrateDown = "down"
)

// Migrate applies the *.up.sql (or reverts the *.down.sql) files in fsys, each in its own
// transaction, recording versions in schema_migrations. steps <= 0 runs all pending ones.
// It returns the versions it ran.
func (s *Store) Migrate(ctx context.Context, fsys fs.FS, direction string, steps int) ([]string, error) {
	if direction != MigrateUp && direction != MigrateDown {
		return nil, fmt.Errorf("direction must be %q or %q, got: %s", MigrateUp, MigrateDown, direction)
	}

	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	files, err := fs.Glob(fsys, "*."+direction+".sql")
	if err != nil {
		return nil, fmt.Errorf("failed to find migration files: %w", err)
	}

	var ran []string
	for _, file := range planMigrations(files, applied, direction, steps) {
		version := migrationVersion(file, direction)
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return ran, fmt.Errorf("failed to read migration %s: %w", file, err)
		}

		if err := s.InTx(ctx, func(tx DBTX) error {
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", file, err)
			}
			record := "INSERT INTO schema_migrations (version) VALUES ($1)"
			if direction == MigrateDown {
				record = "DELETE FROM schema_migrations WHERE version = $1"
			}
			if _, err := tx.Exec(ctx, record, version); err != nil {
				return fmt.Errorf("failed to update migrations table: %w", err)
			}
			return nil
		}); err != nil {
			return ran, err
		}

		logger.Info(ctx, "migration applied", "version", version, "direction", direction)
		ran = append(ran, version)
	}
	return ran, nil
}

// PendingMigrations lists the versions in fsys that have not been applied, oldest first
func (s *Store) PendingMigrations(ctx context.Context, fsys fs.FS) ([]string, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	files, err := fs.Glob(fsys, "*."+MigrateUp+".sql")
	if err != nil {
		return nil, fmt.Errorf("failed to find migration files: %w", err)
	}

	var pending []string
	for _, file := range planMigrations(files, applied, MigrateUp, 0) {
		pending = append(pending, migrationVersion(file, MigrateUp))
	}
	return pending, nil
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan migration versions: %w", err)
	}

	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// planMigrations orders files and keeps the ones still to run: unapplied ones going up
// in ascending order, applied ones going down in descending order.
func planMigrations(files []string, applied map[string]bool, direction string, steps int) []string {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	if direction == MigrateDown {
		sort.Sort(sort.Reverse(sort.StringSlice(sorted)))
	}

	var plan []string
	for _, file := range sorted {
		if applied[migrationVersion(file, direction)] == (direction == MigrateUp) {
			continue
		}
		if steps > 0 && len(plan) >= steps {
			break
		}
		plan = append(plan, file)
	}
	return plan
}

func migrationVersion(file, direction string) string {
	return strings.TrimSuffix(path.Base(file), "."+direction+".sql")
}
