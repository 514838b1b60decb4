package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"climatesync/internal/console"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var verbose bool

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive line console for climate entities",
	Long: `Connect to Home Assistant and read commands from standard input:

  list
  mode <entity_id> <mode>
  temp <entity_id> <celsius>
  range <entity_id> <heat> <cool>
  fan <entity_id> <mode>
  preset <entity_id> <preset>
  on <entity_id> | off <entity_id>
  exit

Hub notifications are printed as they arrive. Logging is limited to warnings
unless --verbose is given.`,
	RunE: runConsole,
}

func init() {
	consoleCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Keep the configured log level")
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, args []string) (err error) {
	cfg, logger, err := loadConfig(!verbose)
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

	c := console.New(a.hub, os.Stdin, cmd.OutOrStdout(), logger.Named("console"))
	if err := a.start(ctx); err != nil {
		return err
	}
	return c.Run(ctx)
}
