package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Mirror climate entities until interrupted",
	Long: `Connect to Home Assistant and keep the climate table in sync, reconnecting
after failures. The HTTP API, Prometheus metrics and the MQTT mirror are
started when enabled in the configuration.`,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runService(cmd *cobra.Command, args []string) (err error) {
	cfg, logger, err := loadConfig(false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger)
	defer func() {
		err = multierr.Append(err, a.stop())
	}()
	if err := a.start(ctx); err != nil {
		return err
	}

	logger.Info("climatesync running. Press Ctrl+C to exit.")
	<-ctx.Done()
	logger.Info("Shutting down gracefully...", zap.Int("entities", a.hub.Len()))
	return nil
}
