package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var backtraceTID int64

var backtraceCmd = &cobra.Command{
	Use:   "backtrace <pid>",
	Short: "Capture a call stack from the target",
	Long: `Capture a point-in-time call stack from the target's main thread, or
from a specific thread with --tid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialTarget(args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		_, page, err := c.Backtrace(backtraceTID, cmd.Flags().Changed("tid"))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DEPTH\tFUNC\tFILE\tLINE\tTYPE")
		for i := 0; i < page.NumRows(); i++ {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
				page.Columns[1].Ints[i],
				page.Columns[2].Strings[i],
				page.Columns[3].Strings[i],
				page.Columns[4].Ints[i],
				page.Columns[5].Strings[i])
		}
		w.Flush()
		return nil
	},
}

func init() {
	backtraceCmd.Flags().Int64Var(&backtraceTID, "tid", 0, "capture this thread instead of the main one")
	rootCmd.AddCommand(backtraceCmd)
}
