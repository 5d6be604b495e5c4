package cmd

import (
	"fmt"

	"github.com/sarchlab/agency/codec"
	"github.com/spf13/cobra"
)

// Version is set at link time.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of agencyd and of its wire format.",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "agencyd %s (wire version %d)\n",
			Version, codec.CurrentVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
