package cmd

import (
	"errors"

	"github.com/sarchlab/agency/agency"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a worker agency attached to a broker master.",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		socket, _ := cmd.Flags().GetString("socket")
		workerID, _ := cmd.Flags().GetString("worker-id")

		if workerID == "" {
			return errors.New("a worker needs a --worker-id")
		}

		if socket != "" {
			cfg.Broker.SocketPath = socket
		}

		a, err := agency.MakeBuilder(cfg).
			WithLogger(logger.With("worker", workerID)).
			AsWorker(workerID).
			Build()
		if err != nil {
			return err
		}

		return serve(cmd.Context(), a)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().String("socket", "", "Socket of the broker master")
	workerCmd.Flags().String("worker-id", "", "Id of the worker")
}
