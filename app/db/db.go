// Package database connects the Postgres session backend and applies its
// migrations.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/FACorreiaa/person-registry/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	uuid "github.com/vgarvardt/pgx-google-uuid/v5"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const defaultRetries = 5

type DatabaseConfig struct {
	ConnectionURL string
}

// WaitForDB waits for the database connection pool to be available.
func WaitForDB(ctx context.Context, pgpool *pgxpool.Pool, logger *slog.Logger) bool {
	maxAttempts := defaultRetries
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		err := pgpool.Ping(ctx)
		if err == nil {
			logger.InfoContext(ctx, "Database connection successful")
			return true
		}

		waitDuration := time.Duration(attempts) * 200 * time.Millisecond
		logger.WarnContext(ctx, "Database ping failed, retrying...",
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("wait_duration", waitDuration),
			slog.String("error", err.Error()),
		)
		if attempts < maxAttempts {
			time.Sleep(waitDuration)
		}
	}
	logger.ErrorContext(ctx, "Database connection failed after multiple retries")
	return false
}

// RunMigrations applies database migrations using the embedded filesystem.
func RunMigrations(databaseURL string, logger *slog.Logger) error {
	logger.Info("Running database migrations...")

	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		logger.Error("Failed to create migration source driver", slog.Any("error", err))
		return fmt.Errorf("failed to create migration source driver: %w", err)
	}

	if !strings.HasPrefix(databaseURL, "postgres://") && !strings.HasPrefix(databaseURL, "postgresql://") {
		logger.Error("Invalid database URL scheme for migrate")
		return errors.New("invalid database URL scheme for migrate, ensure it starts with postgresql://")
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, databaseURL)
	if err != nil {
		logger.Error("Failed to initialize migrate instance", slog.Any("error", err))
		return fmt.Errorf("failed to initialize migrate instance: %w", err)
	}

	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		logger.Error("Failed to apply migrations", slog.Any("error", upErr))
		return fmt.Errorf("failed to apply migrations: %w", upErr)
	}

	version, dirty, err := m.Version()
	switch {
	case err != nil:
		logger.Warn("Could not determine migration version", slog.Any("error", err))
	case dirty:
		logger.Error("Session store migration state is dirty", slog.Uint64("version", uint64(version)))
		return fmt.Errorf("session store migration state is dirty at version %d", version)
	case errors.Is(upErr, migrate.ErrNoChange):
		logger.Info("No new migrations to apply", slog.Uint64("current_version", uint64(version)))
	default:
		logger.Info("Session store migrations applied", slog.Uint64("new_version", uint64(version)))
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		logger.Warn("Error closing migration source", slog.Any("error", srcErr))
	}
	if dbErr != nil {
		logger.Warn("Error closing migration database connection", slog.Any("error", dbErr))
	}

	return nil
}

// NewDatabaseConfig builds the session store connection URL.
func NewDatabaseConfig(cfg *config.Config, logger *slog.Logger) (*DatabaseConfig, error) {
	if cfg == nil || cfg.Session.Postgres.Host == "" {
		logger.Error("Postgres session store configuration is missing")
		return nil, errors.New("postgres session store configuration is missing or invalid")
	}
	pg := cfg.Session.Postgres

	sslMode := pg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	query.Set("timezone", "utc")

	connURL := url.URL{
		Scheme:   "postgresql", // postgresql:// for migrate compatibility
		User:     url.UserPassword(pg.Username, cfg.Secrets.PostgresPassword),
		Host:     fmt.Sprintf("%s:%s", pg.Host, pg.Port),
		Path:     pg.DB,
		RawQuery: query.Encode(),
	}

	logger.Info("Database connection URL generated", slog.String("host", connURL.Host), slog.String("database", connURL.Path))
	return &DatabaseConfig{ConnectionURL: connURL.String()}, nil
}

// Init initializes the pgxpool connection pool.
func Init(ctx context.Context, connectionURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	logger.Info("Initializing database connection pool...")
	cfg, err := pgxpool.ParseConfig(connectionURL)
	if err != nil {
		logger.Error("Failed to parse database config", slog.Any("error", err))
		return nil, fmt.Errorf("failed parsing db config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		uuid.Register(conn.TypeMap())
		logger.DebugContext(ctx, "Registered UUID type handler")
		return nil
	}

	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		logger.Error("Failed to create database connection pool", slog.Any("error", err))
		return nil, fmt.Errorf("failed creating db pool: %w", err)
	}

	logger.Info("Database connection pool initialized")
	return pool, nil
}
