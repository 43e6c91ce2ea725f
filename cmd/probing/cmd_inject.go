package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reiase/probing/internal/injector"
	"github.com/reiase/probing/internal/proto"
)

var (
	injectLib  string
	injectOpts []string
)

var injectCmd = &cobra.Command{
	Use:   "inject <pid>",
	Short: "Inject the probing agent into a running process",
	Long: `Attach to a running process, load the agent shared library into it,
and detach. If the agent is already loaded, the given options are
forwarded to it instead of re-injecting.

Examples:
  probing inject 31337 --lib /usr/lib/libprobing.so
  probing inject 31337 --lib /usr/lib/libprobing.so -o script.sampler.enabled=true`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return proto.NewError(proto.ErrBadRequest, "invalid pid %q", args[0])
		}
		options, err := parseOptionPairs(injectOpts)
		if err != nil {
			return err
		}

		inj, err := injector.New()
		if err != nil {
			return err
		}
		res, err := inj.AttachAndInject(pid, injectLib, options)
		if err != nil {
			return err
		}
		if res.AlreadyLoaded {
			fmt.Printf("agent already loaded in %d; options updated\n", pid)
		} else {
			fmt.Printf("agent injected into %d\n", pid)
		}
		return nil
	},
}

func parseOptionPairs(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, proto.NewError(proto.ErrBadRequest, "option %q is not key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}

func init() {
	injectCmd.Flags().StringVar(&injectLib, "lib", "", "absolute path to the agent shared library")
	injectCmd.Flags().StringArrayVarP(&injectOpts, "opt", "o", nil, "initial option key=value (repeatable)")
	injectCmd.MarkFlagRequired("lib")
	rootCmd.AddCommand(injectCmd)
}
