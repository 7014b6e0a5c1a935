package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	pairux "github.com/pairux/pairux-go"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and token status",
	Long:  "Display the current configuration and check whether the stored access token has expired.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Backend URL: %s\n", valueOrDefault(cfg.Backend.URL, "(not set)"))
		if cfg.Backend.AnonKey != "" {
			fmt.Fprintf(out, "  Anon Key:    %s\n", maskKey(cfg.Backend.AnonKey))
		} else {
			fmt.Fprintln(out, "  Anon Key:    (not set)")
		}
		if cc, err := cfg.clientConfig(); err == nil {
			fmt.Fprintf(out, "  Heartbeat:   %s\n", heartbeatOrDefault(cc))
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Auth:")
		fmt.Fprintf(out, "  User ID:     %s\n", valueOrDefault(cfg.Auth.UserID, "(not logged in)"))
		fmt.Fprintf(out, "  Username:    %s\n", valueOrDefault(cfg.Auth.Username, "(not set)"))
		fmt.Fprintf(out, "  Token:       %s\n", tokenStatus(cfg.Auth.AccessToken, time.Now()))
		return nil
	},
}

func heartbeatOrDefault(cfg pairux.Config) time.Duration {
	if cfg.HeartbeatInterval == 0 {
		return 30 * time.Second
	}
	return cfg.HeartbeatInterval
}

// tokenStatus describes the expiry of an access token.
func tokenStatus(token string, now time.Time) string {
	if token == "" {
		return "none"
	}
	claims, err := pairux.ParseTokenClaims(token)
	if err != nil {
		return "present (opaque token)"
	}
	if claims.ExpiresAt.IsZero() {
		return "present (no expiry set)"
	}
	expires := claims.ExpiresAt.UTC().Format(time.RFC3339)
	if claims.Expired(now) {
		return fmt.Sprintf("EXPIRED (expired %s)", expires)
	}
	return fmt.Sprintf("valid (expires %s)", expires)
}
