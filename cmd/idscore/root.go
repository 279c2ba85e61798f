package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/idcompare/internal/logging"
)

func newRootCommand() *cobra.Command {
	var logLevel string
	var logger *zap.Logger

	rootCmd := &cobra.Command{
		Use:           "idscore",
		Short:         "Offline identity document scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			built, err := logging.NewLogger(logLevel)
			if err != nil {
				return err
			}
			logger = built
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "error", "Log level written to stderr")

	loggerFn := func() *zap.Logger {
		if logger == nil {
			return zap.NewNop()
		}
		return logger
	}

	rootCmd.AddCommand(newParseCommand(loggerFn))
	rootCmd.AddCommand(newTextCommand(loggerFn))
	rootCmd.AddCommand(newFuseCommand(loggerFn))

	return rootCmd
}
