package pairux

import (
	"net/url"
	"os"
	"strings"
	"time"
)

// ============================================================================
// Configuration
// ============================================================================

// Config configures the realtime client.
type Config struct {
	// URL is the backend base URL, e.g. https://xyz.supabase.co.
	URL string
	// AnonKey is the public API key sent as the apikey query parameter.
	AnonKey string

	ProtocolVersion   string
	HeartbeatInterval time.Duration
	QueueCapacity     int
	FlushTimeout      time.Duration
	JanitorInterval   time.Duration
}

// defaults fills unset or non-positive settings.
func (c *Config) defaults() {
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = "1.0.0"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 100
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 2 * time.Second
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = 60 * time.Second
	}
}

// Validate checks that the backend is addressable.
func (c Config) Validate() error {
	if c.URL == "" {
		return configError("backend URL is not set")
	}
	if c.AnonKey == "" {
		return configError("anon key is not set")
	}
	return nil
}

// WebsocketURL derives the realtime endpoint from the backend URL:
// http becomes ws and https becomes wss.
func (c Config) WebsocketURL() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	base := strings.TrimRight(c.URL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "wss://"), strings.HasPrefix(base, "ws://"):
	default:
		return "", configError("unsupported backend URL %q", c.URL)
	}

	version := c.ProtocolVersion
	if version == "" {
		version = "1.0.0"
	}
	q := url.Values{}
	q.Set("apikey", c.AnonKey)
	q.Set("vsn", version)
	return base + "/realtime/v1/websocket?" + q.Encode(), nil
}

// Environment variables consulted by ConfigFromEnv, in priority order.
var (
	URLEnvVars     = []string{"PAIRUX_URL", "VITE_SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL"}
	AnonKeyEnvVars = []string{"PAIRUX_ANON_KEY", "VITE_SUPABASE_ANON_KEY", "NEXT_PUBLIC_SUPABASE_ANON_KEY"}
)

// ConfigFromEnv builds a Config from the environment.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:     firstEnv(URLEnvVars),
		AnonKey: firstEnv(AnonKeyEnvVars),
	}
	if cfg.URL == "" {
		return Config{}, configError("none of %s is set", strings.Join(URLEnvVars, ", "))
	}
	if cfg.AnonKey == "" {
		return Config{}, configError("none of %s is set", strings.Join(AnonKeyEnvVars, ", "))
	}
	cfg.defaults()
	return cfg, nil
}

func firstEnv(names []string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}
