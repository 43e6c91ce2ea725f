package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var evalNoCapture bool

var evalCmd = &cobra.Command{
	Use:   "eval <pid> <code>",
	Short: "Evaluate a code snippet inside the target",
	Long: `Run a code snippet inside the target's embedded interpreter and print
its captured stdout. Exceptions raised by the snippet are reported as
errors without affecting the target.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialTarget(args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		out, err := c.Eval(args[1], !evalNoCapture)
		if err != nil {
			return err
		}
		if len(out) > 0 {
			fmt.Print(string(out))
		}
		return nil
	},
}

func init() {
	evalCmd.Flags().BoolVar(&evalNoCapture, "no-capture", false, "discard the snippet's stdout")
	rootCmd.AddCommand(evalCmd)
}
