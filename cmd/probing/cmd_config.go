package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/reiase/probing/internal/proto"
)

var configPrefix string

var configCmd = &cobra.Command{
	Use:   "config <pid> [key=value ...]",
	Short: "Set or list agent options",
	Long: `Set option key=value pairs on an injected agent, and list current
options. With no pairs, lists everything (optionally filtered by
--prefix).

Examples:
  probing config 31337
  probing config 31337 script.sampler.enabled=true
  probing config 31337 --prefix script.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialTarget(args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		var pairs []proto.ConfigPair
		for _, kv := range args[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return proto.NewError(proto.ErrBadRequest, "argument %q is not key=value", kv)
			}
			pairs = append(pairs, proto.ConfigPair{Key: k, Value: v})
		}

		list := len(pairs) == 0 || configPrefix != ""
		entries, err := c.Config(pairs, list, configPrefix)
		if err != nil {
			return err
		}
		if len(pairs) > 0 {
			fmt.Printf("set %d option(s)\n", len(pairs))
		}
		if list {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tVALUE\tOWNER\tHELP")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Key, e.Value, e.Owner, e.HelpText)
			}
			w.Flush()
		}
		return nil
	},
}

func init() {
	configCmd.Flags().StringVar(&configPrefix, "prefix", "", "list only options whose key starts with this prefix")
	rootCmd.AddCommand(configCmd)
}
