package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	pairux "github.com/pairux/pairux-go"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.pairux/config.toml.
type Config struct {
	Backend  ConfigBackend  `toml:"backend"`
	Auth     ConfigAuth     `toml:"auth"`
	Realtime ConfigRealtime `toml:"realtime"`
}

// ConfigBackend addresses the realtime backend.
type ConfigBackend struct {
	URL     string `toml:"url"`
	AnonKey string `toml:"anon_key"`
}

// ConfigAuth holds the signed-in user.
type ConfigAuth struct {
	AccessToken string `toml:"access_token"`
	UserID      string `toml:"user_id"`
	Username    string `toml:"username"`
}

// ConfigRealtime tunes the connection. Zero values keep the defaults.
type ConfigRealtime struct {
	HeartbeatInterval string `toml:"heartbeat_interval,omitempty"`
	QueueCapacity     int    `toml:"queue_capacity,omitempty"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.pairux, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".pairux")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "backend.url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. backend.url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "backend":
		switch field {
		case "url":
			cfg.Backend.URL = value
		case "anon_key":
			cfg.Backend.AnonKey = value
		default:
			return fmt.Errorf("unknown field %q in section [backend]", field)
		}
	case "auth":
		switch field {
		case "access_token":
			cfg.Auth.AccessToken = value
		case "user_id":
			cfg.Auth.UserID = value
		case "username":
			cfg.Auth.Username = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "realtime":
		switch field {
		case "heartbeat_interval":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid duration %q: %w", value, err)
			}
			cfg.Realtime.HeartbeatInterval = value
		case "queue_capacity":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return fmt.Errorf("queue_capacity must be a positive integer, got %q", value)
			}
			cfg.Realtime.QueueCapacity = n
		default:
			return fmt.Errorf("unknown field %q in section [realtime]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: backend, auth, realtime)", section)
	}
	return nil
}

// clientConfig converts the file config to the library Config. Values from
// the environment fill in a missing backend.
func (c *Config) clientConfig() (pairux.Config, error) {
	cfg := pairux.Config{URL: c.Backend.URL, AnonKey: c.Backend.AnonKey}
	if cfg.URL == "" || cfg.AnonKey == "" {
		if env, err := pairux.ConfigFromEnv(); err == nil {
			if cfg.URL == "" {
				cfg.URL = env.URL
			}
			if cfg.AnonKey == "" {
				cfg.AnonKey = env.AnonKey
			}
		}
	}
	if c.Realtime.HeartbeatInterval != "" {
		d, err := time.ParseDuration(c.Realtime.HeartbeatInterval)
		if err != nil {
			return pairux.Config{}, fmt.Errorf("invalid realtime.heartbeat_interval: %w", err)
		}
		cfg.HeartbeatInterval = d
	}
	cfg.QueueCapacity = c.Realtime.QueueCapacity
	if err := cfg.Validate(); err != nil {
		return pairux.Config{}, fmt.Errorf("%w (run 'pairux init <url> <anon-key>')", err)
	}
	return cfg, nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "pairux",
	Short: "PairUX realtime CLI",
	Long:  "Command-line interface for the PairUX realtime backend.\nManage configuration, join signaling sessions, and follow chat.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// glog reads its flags from the standard flag set.
		flag.CommandLine.Parse(nil)
	},
}

func init() {
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

func main() {
	defer glog.Flush()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
