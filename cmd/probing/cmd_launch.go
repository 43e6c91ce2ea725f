package main

import (
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/reiase/probing/internal/proto"
)

var (
	launchLib    string
	launchNested bool
)

var launchCmd = &cobra.Command{
	Use:   "launch -- <command> [args...]",
	Short: "Launch a command with the agent active from the start",
	Long: `Run a command with the probing activation environment set, so the
agent initializes at process start instead of being injected later.
With --lib the agent library is preloaded into the child via the
dynamic loader.

Examples:
  probing launch -- ./trainer --epochs 10
  probing launch --nested -- ./launcher.sh`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		child := exec.Command(args[0], args[1:]...)
		child.Stdin = os.Stdin
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr

		mode := "followed"
		if launchNested {
			mode = "nested"
		}
		child.Env = append(os.Environ(), "PROBING="+mode)
		if launchLib != "" {
			child.Env = append(child.Env, "LD_PRELOAD="+launchLib)
		}

		if err := child.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				os.Exit(exitErr.ExitCode())
			}
			return proto.NewError(proto.ErrBadRequest, "launch %q: %v", args[0], err)
		}
		return nil
	},
}

func init() {
	launchCmd.Flags().StringVar(&launchLib, "lib", "", "agent shared library to preload into the child")
	launchCmd.Flags().BoolVar(&launchNested, "nested", false, "activate in the child and all its descendants")
	rootCmd.AddCommand(launchCmd)
}
