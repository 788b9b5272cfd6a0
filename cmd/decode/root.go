package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/voxwave/decoder/logutil"
)

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "decode",
		Short:         "Control plane for the GPU-style lattice decoder",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = logutil.LevelTrace
			}
			logutil.Set(logutil.NewLogger(os.Stderr, level))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable trace-level logging")

	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newLMStatsCmd())
	return root
}
