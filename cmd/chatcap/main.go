package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgnsrekt/chatcap/internal/bus"
	"github.com/dgnsrekt/chatcap/internal/config"
	"github.com/dgnsrekt/chatcap/internal/controller"
	"github.com/dgnsrekt/chatcap/internal/session"
	"github.com/dgnsrekt/chatcap/internal/storage"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:           "chatcap",
	Short:         "Capture chat answers and citations from a browser tab over CDP",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and installs the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := setupLogger(cfg.SlogLevel(), cfg.LogFile); err != nil {
		return nil, fmt.Errorf("logger setup: %w", err)
	}
	return cfg, nil
}

// app holds the long-lived collaborators shared by every command.
type app struct {
	cfg      *config.Config
	store    *session.Store
	registry *storage.WriterRegistry
	bus      bus.EventBus
	svc      *controller.Service
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := session.NewStore(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		return nil, err
	}
	registry := storage.NewWriterRegistry(cfg.BufferSize, cfg.MaxFileSizeMB)
	eventBus := bus.New()
	svc := controller.NewService(cfg, store, registry, eventBus,
		controller.ChromeConnector(cfg), controller.ChromeHookDialer(cfg))
	return &app{cfg: cfg, store: store, registry: registry, bus: eventBus, svc: svc}, nil
}

func (a *app) Close() {
	a.bus.Close()
	if err := a.registry.Close(); err != nil {
		slog.Warn("writer registry close failed", "error", err)
	}
}

func setupLogger(level slog.Level, filename string) error {
	var out io.Writer = os.Stderr
	if filename != "" {
		if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
			return err
		}
		logWriter := &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    25,
			MaxBackups: 10,
			MaxAge:     14,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, logWriter)
	}

	h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
	return nil
}
