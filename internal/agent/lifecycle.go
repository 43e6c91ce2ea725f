package agent

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/reiase/probing/internal/coordination"
	"github.com/reiase/probing/internal/discovery"
	"github.com/reiase/probing/internal/log"
)

// Shutdown tears the agent down: the command server stops (cancelling
// in-flight requests and flushing pending responses), the sampler
// halts, the discovery entry and socket disappear, and the peer
// directory is notified. Safe to call from several paths concurrently
// — Go has no atexit, so the cgo entry point, the signal handler, and
// explicit callers all funnel into the same once-guarded teardown.
func (a *Agent) Shutdown() {
	a.shutdownOnce.Do(func() {
		pid := os.Getpid()
		log.Info("agent shutting down", zap.Int("pid", pid))

		a.sampler.Stop()
		a.server.Close()

		a.coord.Withdraw(context.Background(), coordination.Member{
			PID:      pid,
			Rank:     coordination.Rank(),
			Endpoint: a.socketPath,
		})

		if err := discovery.Remove(pid); err != nil {
			log.Warn("remove discovery entry", zap.Error(err))
		}
		os.Remove(a.socketPath)
		log.Sync()
	})
}

// ShutdownCurrent tears down the process-wide agent if one is live.
func ShutdownCurrent() {
	if a := Current(); a != nil {
		a.Shutdown()
	}
}

// HandleSignals installs SIGTERM/SIGINT teardown for standalone
// (non-injected) deployments, where the agent owns the process and an
// orderly exit should still remove the discovery entry. Injected
// deployments skip this — the host process owns its own signal
// handling.
func (a *Agent) HandleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-ch
		a.Shutdown()
		os.Exit(0)
	}()
}
