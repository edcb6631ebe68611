package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Dicklesworthstone/obs_stats_monitor/internal/app"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/config"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/credentials"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/engine"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/exporter"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/hoststats"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/ui"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "obsmon:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.FromFlags(args)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := credentials.NewStore(cfg.StateFile)
	stored, err := store.Load()
	if err != nil {
		logger.Warn("obsmon: ignoring unreadable credentials", "path", store.Path(), "error", err)
	}

	a := app.New(app.Options{
		Interval:       cfg.Interval,
		ReconnectDelay: cfg.ReconnectDelay,
		Store:          store,
		Logger:         logger,
	})
	defer a.Disconnect()

	if cfg.MetricsAddr != "" {
		collector := exporter.NewCollector()
		updates := a.Engine().Subscribe()
		go func() {
			if err := collector.Serve(ctx, cfg.MetricsAddr, updates, logger); err != nil {
				logger.Error("exporter: server failed", "error", err)
			}
		}()
	}

	creds := cfg.Credentials(stored)
	if err := a.Connect(ctx, creds.Address, creds.Password); err != nil {
		if cfg.JSONStream {
			return err
		}
		// The dashboard shows the error and lets the user retry.
		logger.Warn("obsmon: initial connect failed", "error", err)
	}

	if cfg.JSONStream {
		return streamJSON(ctx, a.Engine().Subscribe(), os.Stdout)
	}

	var host *hoststats.Reader
	if cfg.HostStats {
		host = hoststats.NewReader()
	}
	return ui.RunTUI(a, host)
}

// streamJSON writes one view per line until ctx is done.
func streamJSON(ctx context.Context, updates <-chan engine.View, w io.Writer) error {
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-updates:
			if !v.Sampled {
				continue
			}
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
	}
}

func newLogger(cfg config.Config) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return slog.New(slog.NewTextHandler(f, opts)), func() { _ = f.Close() }, nil
	case cfg.JSONStream:
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), func() {}, nil
	default:
		return slog.New(slog.NewTextHandler(io.Discard, opts)), func() {}, nil
	}
}
