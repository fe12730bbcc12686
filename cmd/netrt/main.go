// Command netrt runs the DICOM relay: a storage SCP feeding a per-study
// processing pipeline that forwards its output downstream.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cnct/netrt/anonymize"
	"github.com/cnct/netrt/config"
	"github.com/cnct/netrt/guard"
	"github.com/cnct/netrt/overlay"
	"github.com/cnct/netrt/pipeline"
	"github.com/cnct/netrt/send"
	"github.com/cnct/netrt/server"
	"github.com/cnct/netrt/services"
	"github.com/cnct/netrt/store"
	"github.com/cnct/netrt/watcher"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "netrt:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Directories.Logs, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	appLogFile, err := os.OpenFile(
		filepath.Join(cfg.Directories.Logs, cfg.Logging.ApplicationLogFile),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open application log: %w", err)
	}
	defer appLogFile.Close()

	logger := slog.New(slog.NewTextHandler(
		io.MultiWriter(os.Stderr, appLogFile),
		&slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}))
	slog.SetDefault(logger)

	txLogFile, err := os.OpenFile(
		filepath.Join(cfg.Directories.Logs, cfg.Logging.TransactionLogFile),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open transaction log: %w", err)
	}
	defer txLogFile.Close()
	txlog := zerolog.New(txLogFile).With().Timestamp().Logger()

	st, err := store.New(cfg.Directories.Working, cfg.Directories.QuarantineSubdir, logger)
	if err != nil {
		return err
	}

	anon, err := anonymize.New(
		cfg.Anonymization.Enabled,
		cfg.Anonymization.Full,
		anonymize.Rules{
			RemoveTags: cfg.Anonymization.Rules.RemoveTags,
			BlankTags:  cfg.Anonymization.Rules.BlankTags,
		},
		logger)
	if err != nil {
		return err
	}

	deriver := overlay.NewSeriesDeriver(
		cfg.Processing.DefaultSeriesDescription,
		cfg.Processing.DefaultSeriesNumber,
		logger)
	var disclaimer pipeline.BurnIn
	if cfg.Processing.BurnInEnabled {
		disclaimer = overlay.NewDisclaimer(cfg.Processing.DisclaimerText, logger)
	}

	sender := send.New(
		cfg.Destination.Address(),
		cfg.Listener.AETitle,
		cfg.Destination.AETitle,
		logger)

	orch := pipeline.New(
		st,
		guard.New(),
		anon,
		deriver,
		disclaimer,
		sender,
		cfg.Processing.DebugSeries,
		txlog,
		logger)

	w, err := watcher.New(watcher.Config{
		Root:             cfg.Directories.Working,
		QuarantineSubdir: cfg.Directories.QuarantineSubdir,
		Debounce:         time.Duration(cfg.Completion.DebounceSeconds) * time.Second,
		MinFileCount:     cfg.Completion.MinFileCount,
		Counter:          st,
		OnCandidate: func(studyUID string) {
			go orch.ProcessStudy(studyUID)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	handler := services.NewHandler(
		services.NewEchoService(),
		services.NewStorageService(st, w, logger),
		logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting relay",
		"listener", cfg.Listener.Address(),
		"ae_title", cfg.Listener.AETitle,
		"destination", cfg.Destination.Address(),
		"working", cfg.Directories.Working)

	err = server.ListenAndServe(ctx, cfg.Listener.Address(), cfg.Listener.AETitle, handler,
		server.WithLogger(logger))
	if err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("Relay stopped")
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
