package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/reiase/probing/internal/coordination"
	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/pkg/client"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Operate on a distributed job's peer directory",
}

var clusterAttachCmd = &cobra.Command{
	Use:   "attach <directory-url>",
	Short: "Connect to every agent registered in the peer directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord := coordination.NewClient(args[0])
		members, err := coord.Members(context.Background())
		if err != nil {
			return proto.NewError(proto.ErrTargetUnreachable, "read peer directory: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tPID\tENDPOINT\tSTATUS")
		for _, m := range members {
			status := "ok"
			c, err := client.Dial(m.Endpoint)
			if err != nil {
				status = "unreachable"
			} else {
				if err := c.HelloBearer(os.Getenv("PROBING_AUTH_TOKEN")); err != nil {
					status = "auth failed"
				}
				c.Close()
			}
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", m.Rank, m.PID, m.Endpoint, status)
		}
		w.Flush()
		return nil
	},
}

func init() {
	clusterCmd.AddCommand(clusterAttachCmd)
	rootCmd.AddCommand(clusterCmd)
}
