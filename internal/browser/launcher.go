// Package browser starts a local Chromium with remote debugging enabled.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dgnsrekt/chatcap/internal/config"
)

// Config holds browser launch configuration.
type Config struct {
	BrowserPath string
	CDPAddress  string
	CDPPort     int
	StartURL    string
	ProfileDir  string
	ProxyServer string
	Headless    bool
	WindowSize  string
}

// ConfigFrom copies the launch settings out of the process config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		BrowserPath: cfg.BrowserPath,
		CDPAddress:  cfg.CDPAddress,
		CDPPort:     cfg.CDPPort,
		StartURL:    cfg.StartURL,
		ProfileDir:  cfg.ProfileDir,
		ProxyServer: cfg.ProxyServer,
		Headless:    cfg.Headless,
		WindowSize:  cfg.WindowSize,
	}
}

// startTimeout bounds how long a freshly started browser has to open CDP.
const startTimeout = 15 * time.Second

// Launcher manages the lifecycle of a browser process.
type Launcher struct {
	cfg     Config
	cmd     *exec.Cmd
	running bool
}

// NewLauncher creates a new browser launcher with the given config.
func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1920,1080"
	}
	return &Launcher{cfg: cfg}
}

// detectBrowser returns the configured binary or the first Chrome/Chromium
// found on PATH.
func detectBrowser(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("browser path %s: %w", configured, err)
		}
		return configured, nil
	}
	candidates := []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (tried %s)", strings.Join(candidates, ", "))
}

// buildArgs returns the command line for a browser exposing CDP on the
// configured address with a persistent profile.
func (l *Launcher) buildArgs() []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", l.cfg.CDPPort),
		fmt.Sprintf("--remote-debugging-address=%s", l.cfg.CDPAddress),
		fmt.Sprintf("--user-data-dir=%s", l.cfg.ProfileDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--disable-breakpad",
		"--disable-blink-features=AutomationControlled",
		fmt.Sprintf("--window-size=%s", l.cfg.WindowSize),
	}
	if l.cfg.ProxyServer != "" {
		args = append(args, fmt.Sprintf("--proxy-server=%s", l.cfg.ProxyServer))
	}
	if l.cfg.Headless {
		args = append(args, "--headless=new")
	}
	if l.cfg.StartURL != "" {
		args = append(args, l.cfg.StartURL)
	}
	return args
}

// cdpVersionURL is the endpoint that answers once DevTools is listening.
func (l *Launcher) cdpVersionURL() string {
	return fmt.Sprintf("http://%s/json/version", net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort)))
}

// cdpAlive reports whether a DevTools endpoint answers at the CDP address.
func (l *Launcher) cdpAlive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cdpVersionURL(), nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func portTaken(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Launch starts the browser unless a DevTools endpoint is already up on the
// CDP port. A port held by something that is not DevTools is an error.
func (l *Launcher) Launch(ctx context.Context) error {
	if l.cdpAlive(ctx) {
		slog.Info("reusing running browser", "cdp", l.cdpVersionURL())
		return nil
	}
	if portTaken(l.cfg.CDPAddress, l.cfg.CDPPort) {
		return fmt.Errorf("CDP port %d is in use by something other than a browser", l.cfg.CDPPort)
	}

	browserPath, err := detectBrowser(l.cfg.BrowserPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	l.cmd = exec.Command(browserPath, l.buildArgs()...)
	l.cmd.Stdout = os.Stdout
	l.cmd.Stderr = os.Stderr
	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	l.running = true
	slog.Info("browser process started", "path", browserPath, "pid", l.cmd.Process.Pid, "profile_dir", l.cfg.ProfileDir)

	if err := l.waitForCDP(ctx); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready", "cdp", l.cdpVersionURL())
	return nil
}

// waitForCDP polls the DevTools endpoint until it answers or startTimeout
// passes.
func (l *Launcher) waitForCDP(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not ready: %w", l.cdpVersionURL(), ctx.Err())
		case <-ticker.C:
			if l.cdpAlive(ctx) {
				return nil
			}
		}
	}
}

// Running reports whether this launcher spawned a browser process.
func (l *Launcher) Running() bool {
	return l.running
}

// Stop terminates the browser process with SIGTERM, falling back to SIGKILL.
func (l *Launcher) Stop() {
	if l.cmd == nil || l.cmd.Process == nil {
		return
	}
	slog.Info("stopping browser", "pid", l.cmd.Process.Pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = l.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("browser stopped gracefully")
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit, sending SIGKILL")
		_ = l.cmd.Process.Kill()
		<-done
	}
	l.running = false
}
