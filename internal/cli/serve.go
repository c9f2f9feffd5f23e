package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotapanel/quotapanel/internal/api"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the QuotaPanel server",
	Long: `Start the HTTP server that serves account listings, live quota
aggregation and the OAuth consent flow for adding accounts.

Example:
  quotapanel serve --config config.yaml --port 3078`,
	RunE: runServe,
}

var serveFlags struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", 30*time.Second, "Shutdown timeout")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(globalFlags.Config, true)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	if serveFlags.Host != "" {
		a.cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		a.cfg.Server.HTTPPort = serveFlags.Port
	}

	server := api.NewServer(a.cfg.Server, a.agg, a.flow, a.proxyStore, a.transport, a.snapshots, a.metrics, a.logger)

	// Invalidate the credential cache when files change on disk, so
	// externally dropped auth files show up without waiting for the TTL.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		if err := a.creds.Watch(watchCtx); err != nil {
			a.logger.Warn("credential watcher unavailable", "error", err.Error())
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	sigCh := api.SetupSignalHandler()
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if cmd.Flags().Changed("timeout") || timeout <= 0 {
		timeout = serveFlags.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
