package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/curaflow/appcore/config"
	"github.com/curaflow/appcore/log"
)

var (
	cfg *config.ClientConfig

	// Replaced with the configured zerolog adapter once config is loaded.
	appLogger = log.NewNopLogger()
)

var rootCmd = &cobra.Command{
	Use:   "curactl",
	Short: "curactl manages the Curaflow client session and push registration",
	Long: `A command-line interface for the Curaflow client core: sign in and out,
inspect the session and push registration state, and run the background
daemon that keeps the push token registered.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; absence is the normal case outside dev.
		_ = godotenv.Load()

		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		level, perr := zerolog.ParseLevel(cfg.LogLevel)
		if perr != nil {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
		appLogger = log.NewZerologAdapter(level, cfg.LogPretty)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already printed the error; the structured log only exists
		// once config set the adapter up.
		appLogger.Error(context.Background(), "command failed", err)
		os.Exit(1)
	}
}
