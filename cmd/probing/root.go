package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reiase/probing/internal/discovery"
	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/pkg/client"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "probing",
	Short:         "Probing - runtime diagnostics for live processes",
	Long:          `Probing injects a diagnostic agent into a running process and exposes its internal state (stacks, variables, metrics, time series) through a tabular query interface, without code changes or restarts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and maps errors to the documented exit
// codes: 0 success, 1 user error, 2 target unreachable, 3 auth failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch proto.AsError(err).Category {
	case proto.ErrTargetUnreachable:
		return 2
	case proto.ErrAuthRequired, proto.ErrForbidden, proto.ErrPermission:
		return 3
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().String("auth-token", "", "authentication token presented to the agent")
	rootCmd.PersistentFlags().String("endpoint", "", "dial this endpoint directly instead of resolving a pid")
	viper.BindPFlag("auth_token", rootCmd.PersistentFlags().Lookup("auth-token"))
	viper.BindPFlag("endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
	viper.BindEnv("auth_token", "PROBING_AUTH_TOKEN")
}

// dialTarget resolves a pid argument (or the --endpoint override) to a
// connected, authenticated client.
func dialTarget(pidArg string) (*client.Client, error) {
	endpoint := viper.GetString("endpoint")
	if endpoint == "" {
		pid, err := strconv.Atoi(pidArg)
		if err != nil {
			return nil, proto.NewError(proto.ErrBadRequest, "invalid pid %q", pidArg)
		}
		entry, err := discovery.Lookup(pid)
		if err != nil {
			return nil, proto.NewError(proto.ErrTargetUnreachable,
				"no agent registered for pid %d (is it injected?)", pid)
		}
		endpoint = entry.Endpoint()
	}

	c, err := client.Dial(endpoint)
	if err != nil {
		return nil, err
	}
	if err := c.HelloBearer(viper.GetString("auth_token")); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
