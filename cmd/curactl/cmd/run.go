package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/curaflow/appcore"
	diag "github.com/curaflow/appcore/api/echo"
	"github.com/curaflow/appcore/internal/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the client daemon",
	Long: `Bootstraps the session from persisted tokens, keeps it renewed, keeps
the push token registered with the backend, and serves the diagnostics
endpoint when DIAG_ADDR is configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.auth.Close()
		defer a.push.Stop()

		metrics.Register(prometheus.DefaultRegisterer)

		state := a.auth.Bootstrap(ctx)
		appLogger.Info(ctx, "bootstrap resolved", map[string]interface{}{
			"state": state.String(),
		})

		if state == appcore.BootAuthenticated {
			token, terr := pushTokenSource(cfg).PushToken(ctx)
			if terr != nil {
				appLogger.Warn(ctx, "push token unavailable", map[string]interface{}{
					"error": terr.Error(),
				})
			}
			if token != "" {
				a.push.Start(ctx, token)
			}
		}

		var diagServer *echo.Echo
		if cfg.DiagAddr != "" {
			diagServer = echo.New()
			diagServer.HideBanner = true
			diag.NewDiagAPI(a.auth, a.push).RegisterRoutes(diagServer)
			go func() {
				if serr := diagServer.Start(cfg.DiagAddr); serr != nil {
					appLogger.Warn(ctx, "diagnostics server stopped", map[string]interface{}{
						"error": serr.Error(),
					})
				}
			}()
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop

		if diagServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = diagServer.Shutdown(shutdownCtx)
		}
		appLogger.Info(ctx, "daemon stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
