// Package main provides a CLI tool for database migrations.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultMigrationsPath   = "migrations"
)

func main() {
	var (
		dbHost     = flag.String("db-host", getEnv("DB_HOST", "localhost"), "Database host")
		dbPort     = flag.String("db-port", getEnv("DB_PORT", "5432"), "Database port")
		dbUser     = flag.String("db-user", getEnv("DB_USER", "postgres"), "Database user")
		dbPassword = flag.String("db-password", getEnv("DB_PASSWORD", ""), "Database password")
		dbName     = flag.String("db-name", getEnv("DB_NAME", "event_pipeline"), "Database name")
		dbSSLMode  = flag.String("db-sslmode", getEnv("DB_SSLMODE", "disable"), "Database SSL mode")
		migrPath   = flag.String("path", getEnv("MIGRATIONS_PATH", defaultMigrationsPath), "Path to migrations directory")
		timeout    = flag.Duration("timeout", defaultMigrationTimeout, "Timeout per migration")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Database migration tool for the event pipeline\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]     Apply all or N down migrations\n")
		fmt.Fprintf(os.Stderr, "  version      Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  force V      Set version V without running migrations (use with caution)\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		*dbUser, *dbPassword, *dbHost, *dbPort, *dbName, *dbSSLMode)

	if err := run(dbURL, *migrPath, *timeout, args[0], args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(dbURL, migrPath string, timeout time.Duration, cmd string, args []string) error {
	m, err := newMigrate(dbURL, migrPath, timeout)
	if err != nil {
		return err
	}
	defer m.Close()

	switch cmd {
	case "up", "down":
		steps := 0
		if len(args) > 0 {
			steps, err = strconv.Atoi(args[0])
			if err != nil || steps < 1 {
				return fmt.Errorf("invalid number of steps: %s", args[0])
			}
		}
		if cmd == "down" {
			steps = -steps
		}
		return runSteps(m, cmd, steps)
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("No migrations have been applied yet")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		status := ""
		if dirty {
			status = " (dirty)"
		}
		log.Printf("Current migration version: %d%s", version, status)
		return nil
	case "force":
		if len(args) < 1 {
			return fmt.Errorf("force requires a version number")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("force failed: %w", err)
		}
		log.Printf("Version forced to %d", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func runSteps(m *migrate.Migrate, direction string, steps int) error {
	currentVersion, _, _ := m.Version()
	log.Printf("Starting migration %s from version %d...", direction, currentVersion)

	var err error
	switch {
	case steps != 0:
		err = m.Steps(steps)
	case direction == "up":
		err = m.Up()
	default:
		err = m.Down()
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	newVersion, _, _ := m.Version()
	log.Printf("Migration completed: %d -> %d", currentVersion, newVersion)
	return nil
}

// newMigrate opens the database and builds a migrate instance against
// the file source.
func newMigrate(dbURL, migrPath string, timeout time.Duration) (*migrate.Migrate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	absPath, err := filepath.Abs(migrPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+absPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = timeout

	return m, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
