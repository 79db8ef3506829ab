// Package cli holds the startup steps shared by cmd/cargostat and
// cmd/cargostat-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cargostat/internal/config"
	"cargostat/internal/log"
	"cargostat/internal/storage"
)

// SetupLogger builds the process logger from LOG_LEVEL and installs it as
// the slog default. An unknown level falls back to info.
func SetupLogger(component string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Component = component
	level, err := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	cfg.Level = level
	logger := log.New(cfg)
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Ignoring LOG_LEVEL", log.FieldError, err, log.FieldOperation, log.OpStartup)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite opens and migrates the database at dbPath.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.WithComponent(log.ComponentStorage).Error("Failed to initialize SQLite repository",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase,
			"path", dbPath)
		os.Exit(1)
	}
	logger.WithComponent(log.ComponentStorage).Info("SQLite repository ready", "path", dbPath)
	return repo
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. Once
// the signal arrives, cleanup runs with a context bounded by timeout and
// done is closed when it returns.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context) error) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		if cleanup == nil {
			return
		}
		if err := cleanup(shutdownCtx); err != nil {
			logger.Error("Shutdown finished with errors", log.FieldError, err)
			return
		}
		logger.Info("Shutdown complete")
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}

// Fatal logs err and exits.
func Fatal(logger *log.Logger, msg string, err error) {
	logger.Error(msg, log.FieldError, fmt.Sprint(err))
	os.Exit(1)
}
