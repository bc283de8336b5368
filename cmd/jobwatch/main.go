package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tastythames/hpc-jobwatch/internal/config"
	"github.com/tastythames/hpc-jobwatch/internal/logging"
)

var Version = "v0.1.0-dev"

var (
	cfg     config.Config
	logger  zerolog.Logger
	verbose bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jobwatch",
		Short:         "Poll HPC batch jobs over SSH or the REST API until they finish",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			if verbose {
				cfg.LogLevel = "debug"
				cfg.SSH.Verbose = true
			}
			logger = logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Verbose: cfg.SSH.Verbose})
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging and verbose SSH sessions")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newDialectsCmd())
	root.AddCommand(newWebAPICmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
