// Package agent owns the process-wide runtime the injected library
// stands up: the extension registry, the command server and its
// endpoints, the discovery entry, and teardown. There is exactly one
// Agent per process, constructed on library init and torn down at
// process exit; re-injection updates options instead of reinitializing.
package agent

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/reiase/probing/internal/command"
	"github.com/reiase/probing/internal/config"
	"github.com/reiase/probing/internal/coordination"
	"github.com/reiase/probing/internal/discovery"
	"github.com/reiase/probing/internal/extension"
	"github.com/reiase/probing/internal/log"
	"github.com/reiase/probing/internal/sampler"
	"github.com/reiase/probing/internal/script"
	"github.com/reiase/probing/internal/seriesstore"
)

var (
	globalMu sync.Mutex
	global   *Agent
)

// Agent is the singleton runtime.
type Agent struct {
	env      config.Env
	registry *extension.Registry
	store    *seriesstore.Store
	bridge   *script.Bridge
	sampler  *sampler.Sampler
	server   *command.Server
	coord    *coordination.Client

	socketPath string
	tcpPort    int

	shutdownOnce sync.Once
}

// Bootstrap initializes the process-wide agent, once. It reads the
// environment, decides activation, registers the built-in extensions in
// dependency order, binds the command endpoint(s), publishes the
// discovery entry, and starts serving. A second call returns the
// existing agent. It returns (nil, nil) when the activation mode says
// this process should stay untouched.
func Bootstrap() (*Agent, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return global, nil
	}

	env := config.FromEnviron()
	if !env.Activation.Active(scriptName()) {
		return nil, nil
	}
	log.Init(env.LogLevel)

	a, err := newAgent(env)
	if err != nil {
		return nil, err
	}
	global = a
	log.Info("agent initialized",
		zap.Int("pid", os.Getpid()),
		zap.String("socket", a.socketPath),
		zap.Int("tcp_port", a.tcpPort))
	return a, nil
}

// Current returns the live agent, or nil before Bootstrap (or when the
// process never activated).
func Current() *Agent {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// scriptName is the identity the activation literal/regex modes match
// against: the invoking executable path.
func scriptName() string {
	if len(os.Args) > 0 {
		return os.Args[0]
	}
	return ""
}

func newAgent(env config.Env) (*Agent, error) {
	a := &Agent{
		env:      env,
		registry: extension.NewRegistry(),
		store:    seriesstore.NewStore(seriesstore.DefaultMaxChunkRows, seriesstore.Retention{}),
		coord:    coordination.FromEnviron(),
	}

	interp := script.NewGoInterpreter()
	a.bridge = script.NewBridge(interp)
	a.sampler = sampler.New(a.captureSampleStack(interp))

	a.server = command.New(a.registry, a.bridge, command.Config{
		MaxRequestSize: env.MaxRequestSize,
		AuthToken:      env.AuthToken,
		AuthUsername:   env.AuthUsername,
		AuthRealm:      env.AuthRealm,
		FileRoots:      fileRoots(),
		MaxFileSize:    env.MaxFileSize,
	})

	// Built-in extensions, dependency order: metadata first, data
	// producers next, the server's own knobs last.
	for _, ext := range []extension.Extension{
		extension.NewSystemExtension(a.registry),
		seriesstore.NewExtension(a.store),
		a.bridge,
		sampler.NewExtension(a.sampler),
		a.server,
		a.server.StaticFiles(),
		a.server.Metrics(),
	} {
		if err := a.registry.Register(ext); err != nil {
			return nil, fmt.Errorf("agent: register %s: %w", ext.Name(), err)
		}
	}

	if err := a.bind(); err != nil {
		return nil, err
	}

	a.coord.Announce(context.Background(), coordination.Member{
		PID:      os.Getpid(),
		Rank:     coordination.Rank(),
		Endpoint: a.socketPath,
	})
	return a, nil
}

// bind stands up the unix-domain endpoint (and the optional TCP one),
// publishes the discovery entry, and starts the accept loops.
func (a *Agent) bind() error {
	pid := os.Getpid()
	a.socketPath = config.SocketPath(pid)
	if err := os.MkdirAll(config.DiscoveryDir(), 0o700); err != nil {
		return fmt.Errorf("agent: create discovery dir: %w", err)
	}
	// A stale socket from a recycled pid blocks the bind; remove it.
	os.Remove(a.socketPath)

	ul, err := net.Listen("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("agent: bind %s: %w", a.socketPath, err)
	}
	go a.server.Serve(ul)

	if a.env.TCPPort > 0 {
		tl, err := net.Listen("tcp", fmt.Sprintf(":%d", a.env.TCPPort))
		if err != nil {
			ul.Close()
			return fmt.Errorf("agent: bind tcp port %d: %w", a.env.TCPPort, err)
		}
		a.tcpPort = a.env.TCPPort
		go a.server.Serve(tl)
	}

	if err := discovery.Publish(discovery.Entry{
		PID:        pid,
		SocketPath: a.socketPath,
		TCPPort:    a.tcpPort,
	}); err != nil {
		return err
	}
	return nil
}

// captureSampleStack adapts the interpreter's backtrace into the
// outermost-first frame path the sampler's prefix tree aggregates,
// honoring the native-unwind toggle.
func (a *Agent) captureSampleStack(interp script.Interpreter) sampler.StackCapture {
	return func() []string {
		frames, err := interp.Backtrace(context.Background(), 1, false)
		if err != nil || len(frames) == 0 {
			return nil
		}
		includeNative := a.sampler != nil && a.sampler.NativeUnwind()
		var path []string
		for i := len(frames) - 1; i >= 0; i-- { // deepest-first to outermost-first
			f := frames[i]
			if !includeNative && strings.HasPrefix(f.Func, "runtime.") {
				continue
			}
			path = append(path, f.Func)
		}
		return path
	}
}

// Registry exposes the agent's extension registry (for the standalone
// demo binary and tests).
func (a *Agent) Registry() *extension.Registry { return a.registry }

// Bridge exposes the script bridge.
func (a *Agent) Bridge() *script.Bridge { return a.bridge }

// SeriesStore exposes the series store for in-process metric producers.
func (a *Agent) SeriesStore() *seriesstore.Store { return a.store }

// SocketPath returns the bound unix endpoint.
func (a *Agent) SocketPath() string { return a.socketPath }

// fileRoots lists the directories the static file endpoint may serve:
// an explicit override, or the process working directory.
func fileRoots() []string {
	if dir := os.Getenv("PROBING_STATIC_DIR"); dir != "" {
		return []string{dir}
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil
	}
	return []string{wd}
}
