// Package migrations предоставляет обертку над goose для управления миграциями схемы базы данных.
// SQL миграции встроены в бинарь.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var embedded embed.FS

// MigrationStatus представляет статус миграции
type MigrationStatus struct {
	Version   int64
	Name      string
	AppliedAt *time.Time
	Status    string // "pending", "applied"
}

// Files возвращает файловую систему со встроенными миграциями
func Files() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Open открывает database/sql соединение через драйвер pgx
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func newProvider(db *sql.DB) (*goose.Provider, error) {
	provider, err := goose.NewProvider(goose.DialectPostgres, db, Files())
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, nil
}

// RunMigrations применяет все pending миграции
func RunMigrations(ctx context.Context, db *sql.DB) error {
	provider, err := newProvider(db)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	for _, r := range results {
		log.Printf("[migrations] applied %s in %s", r.Source.Path, r.Duration)
	}
	return nil
}

// RunMigrationsLimited применяет не более steps pending миграций
func RunMigrationsLimited(ctx context.Context, db *sql.DB, steps int) error {
	if steps <= 0 {
		return RunMigrations(ctx, db)
	}
	provider, err := newProvider(db)
	if err != nil {
		return err
	}
	for i := 0; i < steps; i++ {
		result, err := provider.UpByOne(ctx)
		if err != nil {
			if errors.Is(err, goose.ErrNoNextVersion) {
				return nil
			}
			return fmt.Errorf("failed to run migration: %w", err)
		}
		log.Printf("[migrations] applied %s in %s", result.Source.Path, result.Duration)
	}
	return nil
}

// RollbackMigration откатывает последнюю миграцию
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	provider, err := newProvider(db)
	if err != nil {
		return err
	}
	result, err := provider.Down(ctx)
	if err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	log.Printf("[migrations] rolled back %s", result.Source.Path)
	return nil
}

// GetMigrationStatus возвращает статус всех миграций
func GetMigrationStatus(ctx context.Context, db *sql.DB) ([]MigrationStatus, error) {
	provider, err := newProvider(db)
	if err != nil {
		return nil, err
	}
	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}

	result := make([]MigrationStatus, 0, len(statuses))
	for _, s := range statuses {
		status := MigrationStatus{
			Version: s.Source.Version,
			Name:    s.Source.Path,
			Status:  "pending",
		}
		if s.State == goose.StateApplied {
			appliedAt := s.AppliedAt
			status.AppliedAt = &appliedAt
			status.Status = "applied"
		}
		result = append(result, status)
	}
	return result, nil
}
