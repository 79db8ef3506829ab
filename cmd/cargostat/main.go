package main

import (
	"context"
	"errors"
	"time"

	"cargostat/internal/amqp"
	"cargostat/internal/cli"
	"cargostat/internal/config"
	"cargostat/internal/export"
	apphttp "cargostat/internal/http"
	"cargostat/internal/log"
	"cargostat/internal/reporting"
	"cargostat/internal/services"
	"cargostat/internal/store"
	"cargostat/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)
	ctx := context.Background()

	opts := []store.Option{store.WithLogger(logger.WithComponent(log.ComponentStore).Logger)}
	checks := map[string]apphttp.ReadyCheck{}
	var closers []func() error

	var (
		s   *store.Store
		err error
	)
	if cfg.UseSQLite() {
		repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
		closers = append(closers, repo.Close)
		checks["sqlite"] = repo.Ping

		snap, err := repo.Load(ctx)
		if err != nil {
			cli.Fatal(logger, "Failed to load persisted state", err)
		}
		s, err = store.Open(snap, append(opts, store.WithPersister(repo))...)
		if err != nil {
			cli.Fatal(logger, "Failed to open store", err)
		}
	} else {
		s, err = openMemoryStore(cfg, opts, logger)
		if err != nil {
			cli.Fatal(logger, "Failed to open store", err)
		}
	}

	reports := reporting.New(s, logger.WithComponent(log.ComponentReporting).Logger)

	var publisher services.Publisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			// Writes still succeed; the worker's periodic backup catches up.
			logger.WithComponent(log.ComponentAMQP).Warn("AMQP unavailable, change messages disabled",
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeNetwork)
		} else {
			publisher = amqpClient
		}
	}
	admin := services.NewAdminService(s, publisher, "")
	logger.WithComponent(log.ComponentAdmin).Info("Admin service ready",
		"source", admin.Source(),
		"change_messages", publisher != nil)
	if amqpClient != nil {
		admin.AddCloser("amqp", amqpClient)
	}

	// In memory mode nothing else persists the state, so back it up here.
	var backups *worker.BackupWorker
	if !cfg.UseSQLite() {
		sink, err := export.NewFileSink(cfg.BackupDir, cfg.BackupKeep)
		if err != nil {
			cli.Fatal(logger, "Failed to open backup directory", err)
		}
		backups = worker.NewBackupWorker(reports, sink, worker.BackupConfig{Interval: cfg.BackupInterval})
		s.OnChange(backups.OnStoreChange)
		if err := backups.Start(ctx); err != nil {
			cli.Fatal(logger, "Failed to start backup worker", err)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Reports:                reports,
		Admin:                  admin,
		Checks:                 checks,
		Logger:                 logger,
		WriteRequestsPerMinute: cfg.WriteRequestsPerMinute,
		CORSOrigin:             cfg.CORSOrigin,
	})

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) error {
		var errs []error
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if backups != nil {
			if err := backups.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := admin.Close(); err != nil {
			errs = append(errs, err)
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	logger.Info("Starting cargostat server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"source", admin.Source())
	if err := srv.ListenAndServe(); err != nil {
		cli.Fatal(logger, "Server error", err)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}

// openMemoryStore seeds an in-memory store from the newest backup, if any.
func openMemoryStore(cfg *config.Config, opts []store.Option, logger *log.Logger) (*store.Store, error) {
	sink, err := export.NewFileSink(cfg.BackupDir, cfg.BackupKeep)
	if err != nil {
		return nil, err
	}
	snap, ok, err := sink.Latest()
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Info("No backup found, starting empty", "dir", cfg.BackupDir)
		return store.New(opts...), nil
	}
	logger.Info("Seeding store from backup",
		"taxonomy_version", snap.Versions.Taxonomy,
		"data_version", snap.Versions.Data)
	return store.Open(snap, opts...)
}
