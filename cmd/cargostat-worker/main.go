package main

import (
	"context"
	"errors"
	"time"

	"cargostat/internal/amqp"
	"cargostat/internal/cli"
	"cargostat/internal/export"
	"cargostat/internal/log"
	gsheet "cargostat/internal/sheets/google"
	"cargostat/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting cargostat-worker")
	cfg := cli.LoadAndValidateConfig(logger)

	if !cfg.UseSQLite() {
		// The server backs up its own in-memory state; there is nothing
		// shared for a separate process to read.
		logger.Error("cargostat-worker requires DATA_BACKEND=sqlite", "backend", cfg.DataBackend)
		return
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	fileSink, err := export.NewFileSink(cfg.BackupDir, cfg.BackupKeep)
	if err != nil {
		cli.Fatal(logger, "Failed to open backup directory", err)
	}
	sinks := []export.Sink{fileSink}
	exportLogger := logger.WithComponent(log.ComponentExport)
	exportLogger.Info("File backups enabled", "dir", cfg.BackupDir, "keep", cfg.BackupKeep)

	if cfg.GoogleSpreadsheetID != "" {
		sheetsClient, err := gsheet.NewFromEnv(context.Background())
		if err != nil {
			cli.Fatal(logger.WithComponent(log.ComponentSheets), "Failed to initialize Google Sheets client", err)
		}
		sinks = append(sinks, sheetsClient)
		exportLogger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		exportLogger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	backups := worker.NewBackupWorker(repo, export.NewFanout(sinks...), worker.BackupConfig{
		Interval: cfg.BackupInterval,
	})

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			cli.Fatal(logger, "Failed to initialize AMQP client", err)
		}
	} else {
		logger.Info("AMQP disabled - backups run on the interval only", "interval", cfg.BackupInterval)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) error {
		var errs []error
		if err := backups.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	if err := backups.Start(ctx); err != nil {
		cli.Fatal(logger, "Failed to start backup worker", err)
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeChanges(ctx, backups.HandleChangeMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Change consumption stopped", log.FieldError, err)
			}
		}()
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
