package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var signalHost bool

func init() {
	signalJoinCmd.Flags().BoolVar(&signalHost, "host", false, "join as the session host")
	signalCmd.AddCommand(signalJoinCmd)
	rootCmd.AddCommand(signalCmd)
}

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Screen-sharing session signaling",
}

var signalJoinCmd = &cobra.Command{
	Use:   "join <session-id>",
	Short: "Join a session channel and print signaling events",
	Long:  "Join the signaling channel of a session and print every event as a JSON line until interrupted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.OutOrStdout())
		if err != nil {
			return err
		}

		ctx, cancel := interruptContext()
		defer cancel()

		sig := client.Signaling()
		if err := sig.Connect(ctx, args[0], "", signalHost); err != nil {
			return fmt.Errorf("failed to join session: %w", err)
		}
		done := sig.Done()

		select {
		case <-ctx.Done():
		case <-done:
		}
		status := sig.Status()

		sig.Disconnect()
		waitDone(done, 5*time.Second)

		fmt.Fprintf(cmd.ErrOrStderr(), "session %s: %s\n", args[0], status)
		return nil
	},
}

// waitDone waits for a connection to shut down, at most timeout.
func waitDone(done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
