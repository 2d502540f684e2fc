package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mailhttp "github.com/fyrsmithlabs/mailindex/internal/http"
	"github.com/fyrsmithlabs/mailindex/internal/services"
)

var (
	serveHost      string
	servePort      int
	serveAllowSync bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address (default server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default server.port)")
	serveCmd.Flags().BoolVar(&serveAllowSync, "allow-sync", false, "enable POST /api/v1/sync")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search API over HTTP",
	Long: `Start the JSON API:

  GET  /health
  GET  /metrics                          Prometheus
  GET  /api/v1/collections
  GET  /api/v1/collections/:name/stats
  POST /api/v1/search                    {"query", "k", "provider", "model"}
  GET  /api/v1/emails/:collection/:id
  POST /api/v1/sync                      only with --allow-sync

The server binds to 127.0.0.1 unless server.host says otherwise.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withRegistry(cmd, func(ctx context.Context, a *app, reg services.Registry) error {
		cfg := &mailhttp.Config{
			Host:      a.cfg.Server.Host,
			Port:      a.cfg.Server.Port,
			AllowSync: serveAllowSync,
			Telemetry: a.tel,
		}
		if serveHost != "" {
			cfg.Host = serveHost
		}
		if servePort != 0 {
			cfg.Port = servePort
		}

		logger := a.logger.Underlying()
		srv, err := mailhttp.NewServer(reg, logger, cfg)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown did not finish cleanly", zap.Error(err))
		}
		return nil
	})
}
