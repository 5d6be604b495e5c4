package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sarchlab/agency/agency"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an agency until it is interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("open-monitor") {
			cfg.Monitor.Enabled = true
			cfg.Monitor.Open, _ = flags.GetBool("open-monitor")
		}

		if flags.Changed("monitor-port") {
			cfg.Monitor.Enabled = true
			cfg.Monitor.Port, _ = flags.GetInt("monitor-port")
		}

		if flags.Changed("workers") {
			cfg.Broker.Enabled = true
			cfg.Broker.Workers, _ = flags.GetInt("workers")
		}

		a, err := agency.MakeBuilder(cfg).
			WithLogger(logger).
			WithWorkerCommand(executable(), workerArgs()...).
			Build()
		if err != nil {
			return err
		}

		return serve(cmd.Context(), a)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("open-monitor", false,
		"Serve the monitor and open it in the browser")
	runCmd.Flags().Int("monitor-port", 0, "Port of the monitor")
	runCmd.Flags().Int("workers", 0,
		"Number of worker processes to spawn when this agency is the "+
			"broker master")
}

// serve runs a until the process is interrupted or the event loop ends.
func serve(ctx context.Context, a *agency.Agency) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	waitErr := a.Wait(ctx)

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout)
	defer cancel()

	a.Stop(shutdownCtx)

	if ctx.Err() != nil {
		return nil
	}

	return waitErr
}
