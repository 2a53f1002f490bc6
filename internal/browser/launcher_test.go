package browser

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgnsrekt/chatcap/internal/config"
)

func TestBuildArgs(t *testing.T) {
	l := NewLauncher(Config{
		CDPAddress:  "127.0.0.1",
		CDPPort:     9333,
		ProfileDir:  "/tmp/profile",
		ProxyServer: "http://proxy:8080",
		Headless:    true,
		StartURL:    "https://chatgpt.com/",
	})
	args := l.buildArgs()
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--remote-debugging-port=9333",
		"--remote-debugging-address=127.0.0.1",
		"--user-data-dir=/tmp/profile",
		"--proxy-server=http://proxy:8080",
		"--headless=new",
		"--window-size=1920,1080",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("buildArgs() missing %q in %v", want, args)
		}
	}
	if last := args[len(args)-1]; last != "https://chatgpt.com/" {
		t.Errorf("last arg = %q; want start URL", last)
	}
}

func TestBuildArgsWithoutProxy(t *testing.T) {
	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: 9222})
	for _, a := range l.buildArgs() {
		if strings.HasPrefix(a, "--proxy-server") || strings.HasPrefix(a, "--headless") {
			t.Errorf("unexpected arg %q", a)
		}
	}
}

func TestDetectBrowserConfigured(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "chrome")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := detectBrowser(bin)
	if err != nil || got != bin {
		t.Errorf("detectBrowser(%q) = %q, %v; want the configured path", bin, got, err)
	}
	if _, err := detectBrowser(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("detectBrowser(missing) error = nil; want error")
	}
}

func TestLaunchReusesRunningBrowser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"webSocketDebuggerUrl":"ws://127.0.0.1/devtools/browser/x"}`))
	}))
	defer srv.Close()
	addr := srv.Listener.Addr().(*net.TCPAddr)

	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: addr.Port, BrowserPath: "/nonexistent"})
	if err := l.Launch(t.Context()); err != nil {
		t.Fatalf("Launch() error = %v; want nil when CDP already answers", err)
	}
	if l.Running() {
		t.Error("Running() = true; want false when launch was skipped")
	}
}

func TestLaunchRejectsForeignListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: port, BrowserPath: "/nonexistent"})
	if err := l.Launch(t.Context()); err == nil {
		t.Fatal("Launch() error = nil; want error when the port is not DevTools")
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := &config.Config{CDPAddress: "10.0.0.1", CDPPort: 9000, ProxyServer: "socks5://p:1", Headless: true}
	got := ConfigFrom(cfg)
	if got.CDPAddress != "10.0.0.1" || got.CDPPort != 9000 || got.ProxyServer != "socks5://p:1" || !got.Headless {
		t.Errorf("ConfigFrom() = %+v", got)
	}
}
