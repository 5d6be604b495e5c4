// Package cmd provides the command-line interface of agencyd.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sarchlab/agency/config"
	"github.com/sarchlab/agency/logging"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var (
	configPath string
	envFiles   []string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agencyd",
	Short: "agencyd runs an agency that routes messages between agents.",
	Long: `agencyd runs an agency that routes messages between the agents ` +
		`of a process, the worker processes of a host, and other hosts ` +
		`reached over HTTP tunnels or a Redis message bus.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "",
		"YAML configuration file")
	flags.StringSliceVar(&envFiles, "env-file", nil,
		"env files read before the AGENCY_* variables (default .env)")
	flags.StringVar(&logLevel, "log-level", "",
		"log level, overriding the configuration")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath, envFiles...)
	if err != nil {
		return cfg, nil, fmt.Errorf("load configuration: %w", err)
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	return cfg, logging.New(logging.ParseLevel(cfg.Log.Level)), nil
}

// workerArgs are the flags a spawned worker needs to read the same
// configuration as its master.
func workerArgs() []string {
	var args []string

	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	for _, f := range envFiles {
		args = append(args, "--env-file", f)
	}

	return args
}

func executable() string {
	path, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}

	return path
}
