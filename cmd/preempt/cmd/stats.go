package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/amirkhaki/preempt/pkg/runtime"
)

// statsCmd summarizes a trace recorded with PREEMPT_TRACE
var statsCmd = &cobra.Command{
	Use:   "stats TRACE",
	Short: "summarize a recorded event trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trace, err := runtime.LoadTrace(args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "GOROUTINE\tEVENTS\tCALL\tLINE\tRETURN")
		for _, s := range runtime.Summarize(trace) {
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", s.GoID, s.Steps(), s.Calls, s.Lines, s.Returns)
		}
		fmt.Fprintf(w, "total\t%d\t\t\t\n", len(trace))
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
