package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	database "github.com/FACorreiaa/person-registry/app/db"
	"github.com/FACorreiaa/person-registry/config"
	"github.com/FACorreiaa/person-registry/internal/api/auth"
	"github.com/FACorreiaa/person-registry/internal/api/dashboard"
	"github.com/FACorreiaa/person-registry/internal/api/persons"
	"github.com/FACorreiaa/person-registry/internal/api/storage"
	"github.com/FACorreiaa/person-registry/internal/session"
	"github.com/FACorreiaa/person-registry/internal/session/kv"
	"github.com/FACorreiaa/person-registry/internal/supabase"
)

// Container holds all application dependencies
type Container struct {
	Config           *config.Config
	Logger           *slog.Logger
	Pool             *pgxpool.Pool
	Supabase         *supabase.Client
	Sessions         *session.Manager
	AuthHandler      *auth.HandlerImpl
	PersonsHandler   *persons.HandlerImpl
	DashboardHandler *dashboard.HandlerImpl

	closers []io.Closer
}

// NewContainer initializes and returns a new dependency container
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	sb, err := supabase.New(supabase.Config{
		URL:            cfg.Secrets.SupabaseURL,
		AnonKey:        cfg.Secrets.SupabaseAnonKey,
		ServiceRoleKey: cfg.Secrets.SupabaseServiceRoleKey,
		Timeout:        cfg.Upstream.Timeout,
	}, logger)
	if err != nil {
		logger.Error("Failed to configure backend client", slog.Any("error", err))
		return nil, err
	}
	c.Supabase = sb
	if !sb.HasServiceKey() {
		logger.Warn("SUPABASE_SERVICE_ROLE_KEY not set, approvals will be rejected")
	}

	store, err := c.sessionKV(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}

	authClient := auth.NewClientImpl(sb, logger)
	c.Sessions, err = session.NewManager(store, authClient, session.ManagerConfig{
		CookieName: cfg.Session.CookieName,
		Secret:     cfg.SessionSecret(),
		TTL:        cfg.Session.TTL,
		Secure:     cfg.Session.Secure,
		AdminRole:  cfg.Upstream.AdminRole,
	}, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	photos, err := c.photoStore(ctx, sb)
	if err != nil {
		c.Close()
		return nil, err
	}

	personsRepo := persons.NewRepositoryImpl(sb, logger)
	personsService := persons.NewServiceImpl(personsRepo, photos, logger)

	c.AuthHandler = auth.NewHandlerImpl(logger)
	c.PersonsHandler = persons.NewHandlerImpl(personsService, logger)
	c.DashboardHandler = dashboard.NewHandlerImpl(personsService, logger)
	return c, nil
}

func (c *Container) sessionKV(ctx context.Context) (session.KV, error) {
	cfg := c.Config
	switch cfg.Session.Backend {
	case "memory":
		return kv.NewMemory(cfg.Session.TTL), nil
	case "sqlite":
		s, err := kv.OpenSQLite(cfg.Session.SQLitePath, cfg.Session.TTL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, s)
		return s, nil
	case "redis":
		r, err := kv.NewRedis(ctx, kv.RedisConfig{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Secrets.RedisPassword,
			DB:       cfg.Session.Redis.DB,
			TTL:      cfg.Session.TTL,
		})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, r)
		return r, nil
	case "postgres":
		dbConfig, err := database.NewDatabaseConfig(cfg, c.Logger)
		if err != nil {
			return nil, err
		}
		if err = database.RunMigrations(dbConfig.ConnectionURL, c.Logger); err != nil {
			return nil, err
		}
		pool, err := database.Init(ctx, dbConfig.ConnectionURL, c.Logger)
		if err != nil {
			return nil, err
		}
		c.Pool = pool
		if !database.WaitForDB(ctx, pool, c.Logger) {
			return nil, errors.New("session database not ready")
		}
		return kv.NewPostgres(pool, cfg.Session.TTL), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

func (c *Container) photoStore(ctx context.Context, sb *supabase.Client) (storage.PhotoStore, error) {
	cfg := c.Config
	if cfg.Storage.Backend != "s3" {
		return storage.NewSupabaseStore(sb, cfg.Upstream.Bucket, cfg.Upstream.Folder, c.Logger), nil
	}
	s3cfg := storage.S3Config{
		Bucket:          cfg.Storage.S3.Bucket,
		Region:          cfg.Storage.S3.Region,
		Endpoint:        cfg.Storage.S3.Endpoint,
		PublicBaseURL:   cfg.Storage.S3.PublicBaseURL,
		UsePathStyle:    cfg.Storage.S3.UsePathStyle,
		Folder:          cfg.Upstream.Folder,
		AccessKeyID:     cfg.Secrets.S3AccessKeyID,
		SecretAccessKey: cfg.Secrets.S3SecretAccessKey,
	}
	client, err := storage.NewS3Client(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return storage.NewS3Store(client, s3cfg, c.Logger)
}

// Close releases all resources held by the container
func (c *Container) Close() {
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			c.Logger.Warn("Failed to close resource", slog.Any("error", err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
