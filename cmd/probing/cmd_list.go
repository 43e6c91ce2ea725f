package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/reiase/probing/internal/discovery"
)

var listWatch bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List processes with an injected agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !listWatch {
			entries, err := discovery.List()
			if err != nil {
				return err
			}
			printEntries(entries)
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		ch, err := discovery.Watch(ctx)
		if err != nil {
			return err
		}
		for entries := range ch {
			printEntries(entries)
		}
		return nil
	},
}

func printEntries(entries []discovery.Entry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tENDPOINT\tTCP")
	for _, e := range entries {
		tcp := "-"
		if e.TCPPort > 0 {
			tcp = fmt.Sprintf("%d", e.TCPPort)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", e.PID, e.SocketPath, tcp)
	}
	w.Flush()
}

func init() {
	listCmd.Flags().BoolVar(&listWatch, "watch", false, "keep watching the discovery directory for changes")
	rootCmd.AddCommand(listCmd)
}
