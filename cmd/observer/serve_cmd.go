package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/observer/pkg/config"
	"github.com/Mindburn-Labs/observer/pkg/event"
	"github.com/Mindburn-Labs/observer/pkg/ingest"
	"github.com/Mindburn-Labs/observer/pkg/notify"
	"github.com/Mindburn-Labs/observer/pkg/observability"
	"github.com/Mindburn-Labs/observer/pkg/projection"
	"github.com/Mindburn-Labs/observer/pkg/server"
	"github.com/Mindburn-Labs/observer/pkg/store"
)

// runServeCmd wires the process-lifetime components and runs the HTTP server
// until interrupted.
func runServeCmd(args []string, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	port := cmd.String("port", "", "Listen port (overrides OBSERVER_PORT)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}
	setupLogging(cfg.LogLevel)
	logger := slog.Default().With("component", "observer")

	var profile *config.Profile
	if cfg.ProfilePath != "" {
		var err error
		profile, err = config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			logger.Error("profile load failed", "error", err)
			return 2
		}
		if profile.Server.Port != "" && *port == "" {
			cfg.Port = profile.Server.Port
		}
	}
	thresholds := config.EffectiveThresholds(profile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    "gateway-observer",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TelemetryOn,
		Insecure:       true,
	})
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		return 2
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	eventStore := store.NewEventStore()
	index := projection.NewIndex()

	controllerOpts := []ingest.Option{ingest.WithRecorder(telemetry)}
	if cfg.ArchivePath != "" {
		archive, archiveErr := store.OpenSQLiteArchive(cfg.ArchivePath)
		if archiveErr != nil {
			logger.Error("archive open failed", "path", cfg.ArchivePath, "error", archiveErr)
			return 2
		}
		defer func() { _ = archive.Close() }()

		replayed := 0
		replayErr := archive.Replay(ctx, func(e event.ObservedEvent) error {
			if _, appendErr := eventStore.Append(e); appendErr != nil {
				return appendErr
			}
			index.OnEvent(e)
			replayed++
			return nil
		})
		if replayErr != nil {
			logger.Error("archive replay failed", "error", replayErr)
			return 2
		}
		logger.Info("archive replayed", "events", replayed)
		controllerOpts = append(controllerOpts, ingest.WithArchive(archive))
	}

	controller := ingest.NewController(eventStore, index, controllerOpts...)

	var publisher notify.Publisher
	if cfg.RedisAddr != "" {
		redisPublisher := notify.NewRedisPublisher(cfg.RedisAddr, cfg.RedisChannel)
		defer func() { _ = redisPublisher.Close() }()
		publisher = redisPublisher
	}

	srv := server.New(server.Params{
		Store:      eventStore,
		Index:      index,
		Controller: controller,
		Thresholds: thresholds,
		Publisher:  publisher,
		Telemetry:  telemetry,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
			return 2
		}
		logger.Info("shut down")
		return 0
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		return 0
	}
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}
