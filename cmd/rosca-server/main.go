package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/audit"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/config"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/database"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/logging"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/metrics"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/server"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/telemetry"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/users"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

// @title ROSCA API
// @version 1.0
// @description Rotating savings groups: members contribute each cycle and one eligible member receives the pot.

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Session token. Format: "Bearer {token}"

func main() {
	if err := run(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Configuration loaded", "config", cfg, "version", version)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	api.RegisterValidators()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := models.AutoMigrate(db); err != nil {
		return err
	}
	logger.Info("Database migrations completed", "driver", cfg.Database.Driver)

	if err := users.EnsureSuperAdmin(ctx, db, audit.NewRecorder(db, logger), cfg.BootstrapAdminPhone, logger); err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Otel, version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	router := server.NewRouter(server.Deps{
		Config:  cfg,
		DB:      db,
		Logger:  logger,
		Metrics: m,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ROSCA server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
