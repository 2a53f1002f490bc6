package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for chatcap.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	TabURLFilter string

	// Storage settings
	DataDir       string
	MaxFileSizeMB int
	BufferSize    int

	// Capture timing
	CaptureTimeout      time.Duration
	IdleTimeout         time.Duration
	RequestTimeout      time.Duration
	PollInterval        time.Duration
	RequestPollInterval time.Duration
	BodyFetchTimeout    time.Duration

	// Network domain buffers
	MaxTotalBufferSize    int64
	MaxResourceBufferSize int64
	MaxPayloadBytes       int

	// Second capture backend (Fetch domain response hook)
	EnableResponseHook bool

	// Target profile (endpoints, filters, metrics)
	ProfilePath string
	Profile     *Profile

	// Logging
	LogLevel string
	LogFile  string

	// API
	BindAddr      string
	BindFallbacks []string
	AutoFallback  bool

	// Notifications
	NTFYEndpoint string

	// Browser launch
	BrowserPath string
	ProfileDir  string
	ProxyServer string
	Headless    bool
	StartURL    string
	WindowSize  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:            getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:               getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		TabURLFilter:          getEnvOrDefault("CHATCAP_TAB_URL_FILTER", "chatgpt.com"),
		DataDir:               getEnvOrDefault("CHATCAP_DATA_DIR", "./capture_data"),
		MaxFileSizeMB:         getEnvIntOrDefault("CHATCAP_MAX_FILE_SIZE_MB", 200),
		BufferSize:            getEnvIntOrDefault("CHATCAP_BUFFER_SIZE", 5000),
		CaptureTimeout:        getEnvDurationOrDefault("CHATCAP_CAPTURE_TIMEOUT", 420*time.Second),
		IdleTimeout:           getEnvDurationOrDefault("CHATCAP_IDLE_TIMEOUT", 20*time.Second),
		RequestTimeout:        getEnvDurationOrDefault("CHATCAP_REQUEST_TIMEOUT", 180*time.Second),
		PollInterval:          getEnvDurationOrDefault("CHATCAP_POLL_INTERVAL", 250*time.Millisecond),
		RequestPollInterval:   getEnvDurationOrDefault("CHATCAP_REQUEST_POLL_INTERVAL", 200*time.Millisecond),
		BodyFetchTimeout:      getEnvDurationOrDefault("CHATCAP_BODY_FETCH_TIMEOUT", 10*time.Second),
		MaxTotalBufferSize:    int64(getEnvIntOrDefault("CHATCAP_MAX_TOTAL_BUFFER_SIZE", 100*1024*1024)),
		MaxResourceBufferSize: int64(getEnvIntOrDefault("CHATCAP_MAX_RESOURCE_BUFFER_SIZE", 50*1024*1024)),
		MaxPayloadBytes:       getEnvIntOrDefault("CHATCAP_MAX_PAYLOAD_BYTES", 64*1024),
		EnableResponseHook:    getEnvBoolOrDefault("CHATCAP_RESPONSE_HOOK", false),
		ProfilePath:           getEnvOrDefault("CHATCAP_PROFILE", ""),
		LogLevel:              strings.ToLower(getEnvOrDefault("CHATCAP_LOG_LEVEL", "info")),
		LogFile:               getEnvOrDefault("CHATCAP_LOG_FILE", "logs/chatcap.log"),
		BindAddr:              getEnvOrDefault("CHATCAP_BIND_ADDR", "127.0.0.1:8190"),
		BindFallbacks:         getEnvListOrDefault("CHATCAP_BIND_FALLBACKS", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		AutoFallback:          getEnvBoolOrDefault("CHATCAP_BIND_AUTO_FALLBACK", true),
		NTFYEndpoint:          getEnvOrDefault("CHATCAP_NTFY_ENDPOINT", ""),
		BrowserPath:           getEnvOrDefault("CHATCAP_BROWSER_PATH", ""),
		ProfileDir:            getEnvOrDefault("CHATCAP_BROWSER_PROFILE_DIR", "./browser_profile"),
		ProxyServer:           getEnvOrDefault("CHATCAP_PROXY_SERVER", ""),
		Headless:              getEnvBoolOrDefault("CHATCAP_HEADLESS", false),
		StartURL:              getEnvOrDefault("CHATCAP_START_URL", "https://chatgpt.com/"),
		WindowSize:            getEnvOrDefault("CHATCAP_WINDOW_SIZE", "1920,1080"),
	}

	profile := DefaultProfile()
	if cfg.ProfilePath != "" {
		loaded, err := LoadProfile(cfg.ProfilePath)
		if err != nil {
			return nil, err
		}
		profile = loaded
	}
	cfg.Profile = profile

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the capture loop cannot run with.
func (c *Config) Validate() error {
	durations := []struct {
		name string
		val  time.Duration
	}{
		{"CHATCAP_CAPTURE_TIMEOUT", c.CaptureTimeout},
		{"CHATCAP_IDLE_TIMEOUT", c.IdleTimeout},
		{"CHATCAP_REQUEST_TIMEOUT", c.RequestTimeout},
		{"CHATCAP_POLL_INTERVAL", c.PollInterval},
		{"CHATCAP_REQUEST_POLL_INTERVAL", c.RequestPollInterval},
	}
	for _, d := range durations {
		if d.val <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", d.name, d.val)
		}
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("config: CHATCAP_BUFFER_SIZE must be positive, got %d", c.BufferSize)
	}
	return nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDurationOrDefault accepts Go durations ("20s") or bare seconds ("20").
func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
