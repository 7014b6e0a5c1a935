package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	pairux "github.com/pairux/pairux-go"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage PairUX configuration",
	Long:  "View or modify the PairUX CLI configuration stored in ~/.pairux/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  "Print the stored configuration with secrets masked, followed by the realtime settings the client will actually use.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Fprintln(cmd.OutOrStdout(), "No configuration file found. Run 'pairux init <url> <anon-key>' to create one.")
			return nil
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		showConfig(cmd.OutOrStdout(), path, cfg, time.Now())
		return nil
	},
}

// showConfig writes cfg with the anon key masked and the token reduced to
// its expiry status. The realtime section shows effective values.
func showConfig(out io.Writer, path string, cfg *Config, now time.Time) {
	fmt.Fprintf(out, "# %s\n\n", path)

	fmt.Fprintln(out, "[backend]")
	fmt.Fprintf(out, "url      = %s\n", valueOrDefault(cfg.Backend.URL, "(not set)"))
	if cfg.Backend.AnonKey != "" {
		fmt.Fprintf(out, "anon_key = %s\n", maskKey(cfg.Backend.AnonKey))
	} else {
		fmt.Fprintln(out, "anon_key = (not set)")
	}

	fmt.Fprintln(out, "\n[auth]")
	fmt.Fprintf(out, "user_id  = %s\n", valueOrDefault(cfg.Auth.UserID, "(not set)"))
	fmt.Fprintf(out, "username = %s\n", valueOrDefault(cfg.Auth.Username, "(not set)"))
	fmt.Fprintf(out, "token    = %s\n", tokenStatus(cfg.Auth.AccessToken, now))

	fmt.Fprintln(out, "\n[realtime]")
	cc, err := cfg.clientConfig()
	if err != nil {
		fmt.Fprintf(out, "# unavailable: %v\n", err)
		return
	}
	eff := pairux.NewClientWithConfig(cc).Config()
	fmt.Fprintf(out, "heartbeat_interval = %s\n", eff.HeartbeatInterval)
	fmt.Fprintf(out, "queue_capacity     = %d\n", eff.QueueCapacity)
	fmt.Fprintf(out, "flush_timeout      = %s\n", eff.FlushTimeout)
	fmt.Fprintf(out, "websocket          = %s\n", websocketEndpoint(eff))
}

// websocketEndpoint is the realtime URL without its query string.
func websocketEndpoint(cfg pairux.Config) string {
	u, err := cfg.WebsocketURL()
	if err != nil {
		return "(invalid)"
	}
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	return u
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: pairux config set realtime.heartbeat_interval 15s",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}
