// Команда psp-migrate применяет встроенные SQL миграции к PostgreSQL.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/akriventsev/psp-core/framework/migrations"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	dbURL := flags.String("database-url", os.Getenv("PSP_STORE_POSTGRES_DSN"), "PostgreSQL connection string")
	timeout := flags.Duration("timeout", 5*time.Minute, "Overall timeout")
	_ = flags.Parse(os.Args[2:])

	if err := run(command, *dbURL, *timeout, flags.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command, dbURL string, timeout time.Duration, args []string) error {
	if command == "help" || command == "-h" || command == "--help" {
		printUsage()
		return nil
	}
	if err := checkURL(dbURL); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := migrations.Open(dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	switch command {
	case "up":
		steps, err := stepsArg(args, 0)
		if err != nil {
			return err
		}
		if err := migrations.RunMigrationsLimited(ctx, db, steps); err != nil {
			return err
		}
		fmt.Println("Migrations applied successfully")
	case "down":
		steps, err := stepsArg(args, 1)
		if err != nil {
			return err
		}
		for i := 0; i < steps; i++ {
			if err := migrations.RollbackMigration(ctx, db); err != nil {
				return err
			}
		}
		fmt.Printf("Rolled back %d migration(s)\n", steps)
	case "status":
		return printStatus(ctx, db)
	case "version":
		return printVersion(ctx, db)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
	return nil
}

func checkURL(dbURL string) error {
	if dbURL == "" {
		return fmt.Errorf("--database-url is required")
	}
	if !strings.HasPrefix(dbURL, "postgres://") && !strings.HasPrefix(dbURL, "postgresql://") {
		return fmt.Errorf("unsupported database URL scheme: %s (supported: postgres://, postgresql://)", dbURL)
	}
	return nil
}

func stepsArg(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number of steps: %q", args[0])
	}
	return n, nil
}

func printStatus(ctx context.Context, db *sql.DB) error {
	statuses, err := migrations.GetMigrationStatus(ctx, db)
	if err != nil {
		return err
	}
	fmt.Println("Migration Status:")
	fmt.Println("================")
	for _, s := range statuses {
		fmt.Printf("[%-7s] %05d - %s", s.Status, s.Version, s.Name)
		if s.AppliedAt != nil {
			fmt.Printf(" (applied at %s)", s.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}

func printVersion(ctx context.Context, db *sql.DB) error {
	statuses, err := migrations.GetMigrationStatus(ctx, db)
	if err != nil {
		return err
	}
	var current int64
	for _, s := range statuses {
		if s.Status == "applied" && s.Version > current {
			current = s.Version
		}
	}
	if current == 0 {
		fmt.Println("No migrations applied")
		return nil
	}
	fmt.Println(current)
	return nil
}

func printUsage() {
	fmt.Println("psp-core migration tool")
	fmt.Println()
	fmt.Println("Usage: psp-migrate <command> [flags] [N]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up [N]     - Apply all pending migrations (or N migrations)")
	fmt.Println("  down [N]   - Rollback N migrations (default: 1)")
	fmt.Println("  status     - Show status of all migrations")
	fmt.Println("  version    - Show current migration version")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --database-url  - PostgreSQL connection string (default: $PSP_STORE_POSTGRES_DSN)")
	fmt.Println("  --timeout       - Overall timeout (default: 5m)")
}
