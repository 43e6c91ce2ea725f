package command

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/reiase/probing/internal/extension"
	"github.com/reiase/probing/internal/log"
	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/internal/script"
)

// Config carries the server's initial limits and credentials, resolved
// from the environment at agent bootstrap.
type Config struct {
	MaxRequestSize int64
	AuthToken      string
	AuthUsername   string
	AuthRealm      string
	PublicPrefixes []string
	FileRoots      []string
	MaxFileSize    int64
}

// Server accepts connections on one or more stream listeners and runs a
// session per connection. It is itself a registered extension so its
// limits and auth token are live options.
type Server struct {
	auth    *Authenticator
	metrics *Metrics
	static  *StaticFiles
	handler Handler

	maxRequestSize atomic.Int64

	mu        sync.Mutex
	listeners []net.Listener
	sessions  map[string]*Session
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the server, its middleware chain, and the router over reg
// and bridge. The returned server, its Metrics, and its StaticFiles
// extension still need registering with reg by the caller (the agent
// does this during bootstrap, in dependency order).
func New(reg *extension.Registry, bridge *script.Bridge, cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		auth:     NewAuthenticator(cfg.AuthToken, cfg.AuthUsername, cfg.AuthRealm, cfg.PublicPrefixes),
		metrics:  NewMetrics(),
		static:   NewStaticFiles(cfg.FileRoots, cfg.MaxFileSize),
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.maxRequestSize.Store(cfg.MaxRequestSize)

	router := NewRouter(reg, bridge, s.auth)
	s.handler = Chain(router.Handle,
		SizeLimitMiddleware(s.maxRequestSize.Load),
		LoggingMiddleware(),
		MetricsMiddleware(s.metrics),
		AuthMiddleware(s.auth),
	)
	return s
}

// Metrics returns the server's metrics extension for registration.
func (s *Server) Metrics() *Metrics { return s.metrics }

// StaticFiles returns the server's file-serving extension for
// registration.
func (s *Server) StaticFiles() *StaticFiles { return s.static }

// Handler returns the fully-chained request handler, for tests that
// drive sessions without a live listener.
func (s *Server) Handler() Handler { return s.handler }

// Serve accepts connections on l until the server closes. Run it on its
// own goroutine; it returns when the listener is closed.
func (s *Server) Serve(l net.Listener) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return
	}
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		s.startSession(conn)
	}
}

func (s *Server) startSession(conn net.Conn) {
	sess := newSession(conn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	s.metrics.SessionOpened()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sess.ID())
			s.mu.Unlock()
			s.metrics.SessionClosed()
			conn.Close()
		}()
		sess.serve(s.ctx, s.handler)
	}()
}

// ServeConn runs a session over an already-established connection
// synchronously, for in-process clients and tests.
func (s *Server) ServeConn(conn net.Conn) {
	sess := newSession(conn)
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	sess.serve(s.ctx, s.handler)
	conn.Close()
}

// Close shuts the server down: listeners stop accepting, every open
// session's in-flight request is cancelled, and Close blocks until all
// session goroutines exit.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := s.listeners
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	s.cancel()
	for _, l := range listeners {
		l.Close()
	}
	for _, sess := range sessions {
		sess.Close()
	}
	s.wg.Wait()
	return nil
}

// --- extension.Extension: the server's own options ---

func (s *Server) Name() string { return "server" }

func (s *Server) Options() []extension.Option {
	return []extension.Option{
		{Key: "server.max_request_size", Default: strconv.FormatInt(s.maxRequestSize.Load(), 10),
			HelpText: "declared-body byte cap per request; oversize requests are rejected before allocation"},
		{Key: "server.auth.token", Default: s.auth.Token(),
			HelpText: "authentication token; empty disables request authentication"},
	}
}

func (s *Server) SetOption(key, value string) error {
	switch key {
	case "server.max_request_size":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n <= 0 {
			return proto.NewError(proto.ErrBadRequest, "server.max_request_size: invalid value %q", value)
		}
		s.maxRequestSize.Store(n)
		return nil
	case "server.auth.token":
		s.auth.SetToken(value)
		return nil
	default:
		return proto.NewError(proto.ErrNotFound, "server: unknown option %q", key)
	}
}

func (s *Server) GetOption(key string) (string, error) {
	switch key {
	case "server.max_request_size":
		return strconv.FormatInt(s.maxRequestSize.Load(), 10), nil
	case "server.auth.token":
		return s.auth.Token(), nil
	default:
		return "", proto.NewError(proto.ErrNotFound, "server: unknown option %q", key)
	}
}
