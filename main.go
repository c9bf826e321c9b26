package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	appLogger "github.com/FACorreiaa/person-registry/app/logger"
	appMiddleware "github.com/FACorreiaa/person-registry/app/middleware"
	"github.com/FACorreiaa/person-registry/app/tracer"
	"github.com/FACorreiaa/person-registry/config"
	_ "github.com/FACorreiaa/person-registry/docs"
	"github.com/FACorreiaa/person-registry/internal/container"
	"github.com/FACorreiaa/person-registry/internal/router"
)

// @title        Person Registry API
// @version      1.0
// @description  Personnel registry backed by a hosted auth, REST and storage service.
// @BasePath     /api/v1
func main() {
	// Use standard log until slog is configured, in case godotenv fails
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found or error loading:", err)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("FATAL: Error initializing config: %v", err)
	}

	logger := appLogger.Setup(cfg.Mode)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	telemetry, err := tracer.InitTracingAndMetrics(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Error("Failed to initialize telemetry", slog.Any("error", err))
		os.Exit(1)
	}

	c, err := container.NewContainer(ctx, &cfg, logger)
	if err != nil {
		logger.Error("Failed to build application container", slog.Any("error", err))
		os.Exit(1)
	}
	defer c.Close()

	apiRouter := router.SetupRouter(&router.Config{
		AuthHandler:      c.AuthHandler,
		PersonsHandler:   c.PersonsHandler,
		DashboardHandler: c.DashboardHandler,
		Sessions:         c.Sessions,
		MetricsHandler:   telemetry.MetricsHandler,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		Logger:           logger,
	})

	timeout := cfg.Server.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(appMiddleware.RequestIDHeader)
	mux.Use(middleware.RealIP)
	mux.Use(appLogger.StructuredLogger(logger))
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.StripSlashes)
	mux.Use(middleware.Timeout(timeout))
	mux.Use(middleware.Compress(5, "application/json"))
	mux.Mount("/", apiRouter)

	serverAddress := fmt.Sprintf(":%s", cfg.Server.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddress,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: timeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("address", serverAddress))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server ListenAndServe error", slog.Any("error", err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", slog.Any("error", err))
	} else {
		logger.Info("HTTP server gracefully stopped")
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
	}
	logger.Info("Application shut down complete.")
}
