package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/chatcap/internal/api"
	"github.com/dgnsrekt/chatcap/internal/browser"
	"github.com/dgnsrekt/chatcap/internal/netutil"
	"github.com/dgnsrekt/chatcap/internal/notify"
	"github.com/dgnsrekt/chatcap/internal/relay"
	"github.com/dgnsrekt/chatcap/internal/sink"
	"github.com/spf13/cobra"
)

var serveLaunch bool

func init() {
	serveCmd.Flags().BoolVar(&serveLaunch, "launch", false, "start a local browser with remote debugging first")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API and live capture feed",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	slog.Info("chatcap config loaded",
		"bind_addr", cfg.BindAddr,
		"bind_fallbacks", cfg.BindFallbacks,
		"cdp_url", cfg.GetCDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"data_dir", cfg.DataDir,
		"response_hook", cfg.EnableResponseHook,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	if serveLaunch {
		launcher := browser.NewLauncher(browser.ConfigFrom(cfg))
		if err := launcher.Launch(cmd.Context()); err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		defer func() {
			if launcher.Running() {
				launcher.Stop()
			}
		}()
	}

	results := sink.Open(cfg.DataDir, cfg.BufferSize, cfg.MaxFileSizeMB, sink.BrandsFromProfile(cfg.Profile))
	if err := results.Attach(a.bus); err != nil {
		return err
	}
	defer func() {
		if err := results.Close(); err != nil {
			slog.Warn("results sink close failed", "error", err)
		}
	}()

	if n := notify.New(http.DefaultClient, cfg.NTFYEndpoint); n != nil {
		if err := n.Attach(a.bus); err != nil {
			return err
		}
	}

	broker := relay.NewBroker()
	rl := relay.NewRelay(broker)
	if err := rl.Start(a.bus); err != nil {
		return err
	}
	defer rl.Stop()

	ln, err := netutil.Listen(cfg.BindAddr, cfg.BindFallbacks, cfg.AutoFallback)
	if err != nil {
		return fmt.Errorf("select bind address: %w", err)
	}
	addr := ln.Addr().String()

	srv := &http.Server{Handler: api.NewServer(a.svc, relay.SSEHandler(broker))}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("chatcap listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	if id := a.svc.Active(); id != "" {
		slog.Warn("abandoning in-flight capture", "session_id", id)
	}

	ctx, cancel := withShutdownTimeout()
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	return nil
}

// shutdownTimeout bounds graceful teardown of background work.
const shutdownTimeout = 10 * time.Second

func withShutdownTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), shutdownTimeout)
}
