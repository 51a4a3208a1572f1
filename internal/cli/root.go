// Package cli implements the parley command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// resolved before any subcommand runs
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parley",
		Short: "Parley relays chat turns and agent tasks to an inference runtime",
		Long: "Parley fronts an external inference runtime. It streams chat replies, keeps " +
			"transcripts, gates agent tool use and records task telemetry.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "warn"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.parley/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newAgentCmd())
	cmd.AddCommand(newPermissionCmd())
	cmd.AddCommand(newPluginCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// loadConfig reads the config file, honoring --log-level over the file's level.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}
