package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	pairux "github.com/pairux/pairux-go"
)

var loginUsername string

func init() {
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "display name sent with session chat")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <access-token>",
	Short: "Store an access token",
	Long:  "Store the access token used to join realtime channels.\nThe user id is taken from the token's sub claim.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]
		if err := pairux.ValidateAccessToken(token, time.Now()); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.AccessToken = token
		if claims, err := pairux.ParseTokenClaims(token); err == nil {
			cfg.Auth.UserID = claims.Subject
			if loginUsername == "" {
				loginUsername = claims.Email
			}
		}
		if loginUsername != "" {
			cfg.Auth.Username = loginUsername
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", valueOrDefault(cfg.Auth.UserID, "(unknown user)"))
		return nil
	},
}
