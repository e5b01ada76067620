// Command server exposes the validation runner and the evidence ledger over
// HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"etlverify/internal/app"
	"etlverify/internal/config"
	"etlverify/internal/logging"
	"etlverify/internal/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "etlverify-server",
	Short:        "Serve validation runs and ledger queries over HTTP",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		a, err := app.Build(cfg, logger)
		if err != nil {
			logger.Error("startup failed", zap.Error(err))
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := []server.Option{server.WithMaxRuns(cfg.Server.MaxRuns)}
		if cfg.Server.AllowLocal {
			logger.Warn("local access enabled: submitted plans may run commands and read files on this host")
			opts = append(opts, server.WithLocalAccess())
		}
		srv := server.New(a.Runner, a.Ledger, a.Metrics, logger, opts...)
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		if err := srv.ListenAndServe(ctx, addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout); err != nil {
			logger.Error("server stopped", zap.Error(err))
			return err
		}
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default: ./etlverify.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
