package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/jsbox/internal/server"
	"github.com/michaelbrown/jsbox/internal/storage"
	"github.com/michaelbrown/jsbox/internal/storage/sqlite"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JS sandbox HTTP server",
	Long: `Start the HTTP server exposing POST /run_js.

The port comes from JS_SANDBOX_PORT (default 8081) unless --port is given.
Metrics, WebSocket streaming, execution history and rate limiting are
enabled through the config file.

Examples:
  jsbox serve
  JS_SANDBOX_PORT=9090 jsbox serve
  jsbox serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var store storage.Store
	if cfg.Storage.Enabled {
		s, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer s.Close()
		store = s
		logger.Info("execution history enabled", zap.String("db", cfg.Storage.DBPath))
	}

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	logger.Debug("sandbox configured",
		zap.String("isolation", cfg.Sandbox.Isolation),
		zap.Duration("timeout", cfg.Sandbox.Timeout),
	)

	srv := server.New(cfg, cfg.Sandbox.New(), store, logger)

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	return srv.Start(port)
}
