package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Resolve and print the session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.auth.Close()

		state := a.auth.Bootstrap(cmd.Context())
		fmt.Printf("Session: %s\n", state)
		if sess, ok := a.auth.Session(); ok {
			fmt.Printf("Session ID: %s\n", sess.SessionID)
		}

		pushState, err := json.MarshalIndent(a.push.State(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("Push registration: %s\n", pushState)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
