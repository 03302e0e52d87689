package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/signalnine/hypertune/internal/config"
)

var (
	cfgFile  string
	logLevel string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hypertune",
		Short:         "Parallel hyperparameter search over an external solver",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("--log: %w", err)
			}
			logrus.SetLevel(lvl)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "hypertune.yaml", "config file path (defaults apply when absent)")
	root.PersistentFlags().StringVar(&logLevel, "log", "info", "log level (debug, info, warn, error)")
	root.AddCommand(newRunCmd())
	root.AddCommand(newSpaceCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newReportCmd())
	return root
}

// loadConfig reads --config. The default path may be absent; an explicit one
// must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cmd.Flags().Changed("config") {
		return config.Load(cfgFile)
	}
	return config.LoadOptional(cfgFile)
}
