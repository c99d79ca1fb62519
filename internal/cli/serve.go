package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KafClaw/siteagent/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway and background worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd, func(ctx context.Context, a *app.App) error {
			gw := a.Runtime.Current().Gateway
			fmt.Fprintf(cmd.OutOrStdout(), "siteagent %s listening on %s:%d\n", version, gw.Host, gw.Port)
			return a.Serve(ctx)
		})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the background worker (jobs, scheduled tasks, retention)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd, func(ctx context.Context, a *app.App) error {
			fmt.Fprintln(cmd.OutOrStdout(), "siteagent worker started")
			return a.Work(ctx)
		})
	},
}

// runService runs fn until SIGINT or SIGTERM. SIGHUP reloads configuration.
func runService(cmd *cobra.Command, fn func(context.Context, *app.App) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := a.Reload(); err != nil {
					slog.Warn("Config reload failed", "error", err)
				}
			}
		}
	}()

	return fn(ctx, a)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}
