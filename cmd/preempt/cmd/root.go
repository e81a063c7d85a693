// Package cmd implements the preempt command line.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/amirkhaki/preempt/cmd/preempt/version"
	"github.com/amirkhaki/preempt/pkg/envutil"
)

// LogLevel is raised to debug by --debug.
var LogLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "preempt",
	Short: "Periodic callbacks for Go programs via statement-counting instrumentation",
	Example: `  # Rewrite files in place with a _preempt postfix
  preempt instrument -i main.go

  # Build a binary whose main goroutine can be interrupted with Ctrl-C
  go build -toolexec "preempt toolexec" .`,
	Version:       version.GetVersion(),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			LogLevel.Set(slog.LevelDebug)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", envutil.Bool("DEBUG", false), "debug mode [$DEBUG]")
}
