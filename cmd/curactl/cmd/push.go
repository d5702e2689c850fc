package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/curaflow/appcore"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Manage push token registration",
}

var pushRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Run one registration cycle for the configured push token",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.auth.Close()

		if a.auth.Bootstrap(cmd.Context()) != appcore.BootAuthenticated {
			return fmt.Errorf("not authenticated; run 'curactl auth login' first")
		}

		token, err := pushTokenSource(cfg).PushToken(cmd.Context())
		if err != nil {
			return fmt.Errorf("resolving push token: %w", err)
		}
		if token == "" {
			return fmt.Errorf("no push token available")
		}

		if a.push.RegisterNow(cmd.Context(), token) {
			fmt.Println("Push token registered.")
			return nil
		}
		state := a.push.State()
		return fmt.Errorf("registration failed after %d attempts: %s",
			state.Attempts, state.FailureMessage)
	},
}

func init() {
	pushCmd.AddCommand(pushRegisterCmd)
	rootCmd.AddCommand(pushCmd)
}
