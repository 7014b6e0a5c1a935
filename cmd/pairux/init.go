package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <url> <anon-key>",
	Short: "Store the backend URL and anon key in ~/.pairux/config.toml",
	Long:  "Initialize the PairUX CLI by storing the realtime backend address in the local configuration file.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, anonKey := strings.TrimRight(args[0], "/"), args[1]
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("backend URL must start with http:// or https://")
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Backend.URL = url
		cfg.Backend.AnonKey = anonKey

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Backend saved to %s\n", path)
		return nil
	},
}
