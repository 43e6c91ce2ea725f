// Command probing-agent is the agent library entry point. Built with
// -buildmode=c-shared it becomes the shared object the injector maps
// into targets: the Go runtime starts on load and the init hook below
// bootstraps the agent. Built as a plain binary it is a standalone
// demo target that activates the agent in-process and idles, useful
// for exercising the full client path without a separate victim.
package main

import "C"

import (
	"fmt"
	"os"

	"github.com/reiase/probing/internal/agent"
)

// init runs when the dynamic loader maps the library (the trampoline's
// loader call returns only after Go runtime start and package init), so
// injection alone is enough to bring the command endpoint up.
func init() {
	if os.Getenv("PROBING") == "" {
		// Injection implies intent: a target that was explicitly
		// injected activates even without the environment variable.
		os.Setenv("PROBING", "followed")
	}
	if _, err := agent.Bootstrap(); err != nil {
		fmt.Fprintln(os.Stderr, "probing-agent: bootstrap failed:", err)
	}
}

//export ProbingShutdown
func ProbingShutdown() {
	agent.ShutdownCurrent()
}

func main() {
	a := agent.Current()
	if a == nil {
		fmt.Fprintln(os.Stderr, "probing-agent: not activated (set PROBING)")
		os.Exit(1)
	}
	a.HandleSignals()
	fmt.Printf("probing-agent: pid %d listening on %s\n", os.Getpid(), a.SocketPath())
	select {}
}
