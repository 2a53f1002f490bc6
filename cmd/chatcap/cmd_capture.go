package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/chatcap/internal/browser"
	"github.com/dgnsrekt/chatcap/internal/controller"
	"github.com/dgnsrekt/chatcap/internal/notify"
	"github.com/dgnsrekt/chatcap/internal/sink"
	"github.com/spf13/cobra"
)

var captureFlags struct {
	launch         bool
	timeout        time.Duration
	idle           time.Duration
	requestTimeout time.Duration
	jsonOut        bool
}

func init() {
	f := captureCmd.Flags()
	f.BoolVar(&captureFlags.launch, "launch", false, "start a local browser with remote debugging first")
	f.DurationVar(&captureFlags.timeout, "timeout", 0, "hard limit on waiting for completion (default from CHATCAP_CAPTURE_TIMEOUT)")
	f.DurationVar(&captureFlags.idle, "idle", 0, "quiet period that counts as complete (default from CHATCAP_IDLE_TIMEOUT)")
	f.DurationVar(&captureFlags.requestTimeout, "request-timeout", 0, "how long to wait for the conversation request (default from CHATCAP_REQUEST_TIMEOUT)")
	f.BoolVar(&captureFlags.jsonOut, "json", false, "print the outcome as JSON")
	rootCmd.AddCommand(captureCmd)
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Wait for the next answer in the conversation tab and capture it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if captureFlags.launch {
			launcher := browser.NewLauncher(browser.ConfigFrom(a.cfg))
			if err := launcher.Launch(ctx); err != nil {
				return fmt.Errorf("launch browser: %w", err)
			}
			defer func() {
				if launcher.Running() {
					launcher.Stop()
				}
			}()
		}

		results := sink.Open(a.cfg.DataDir, a.cfg.BufferSize, a.cfg.MaxFileSizeMB, sink.BrandsFromProfile(a.cfg.Profile))
		if err := results.Attach(a.bus); err != nil {
			return err
		}
		defer func() {
			if err := results.Close(); err != nil {
				slog.Warn("results sink close failed", "error", err)
			}
		}()
		if n := notify.New(http.DefaultClient, a.cfg.NTFYEndpoint); n != nil {
			if err := n.Attach(a.bus); err != nil {
				return err
			}
		}

		fmt.Fprintln(os.Stderr, "Waiting for a new conversation request. Send a prompt in the browser tab.")
		out, err := a.svc.Capture(ctx, controller.CaptureOptions{
			RequestTimeout: captureFlags.requestTimeout,
			Timeout:        captureFlags.timeout,
			Idle:           captureFlags.idle,
		})
		if err != nil {
			return err
		}

		if captureFlags.jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		fmt.Printf("session:   %s\n", out.Meta.ID)
		fmt.Printf("status:    %s (%s)\n", out.Meta.Status, out.Reason)
		fmt.Printf("answer:    %d chars\n", out.Meta.AnswerChars)
		fmt.Printf("citations: %d\n", out.Meta.CitationsCount)
		if out.Summary != nil && out.Summary.Best != nil {
			for _, c := range out.Summary.Best.Citations {
				fmt.Printf("  - %s\n", c.URL)
			}
		}
		return nil
	},
}
