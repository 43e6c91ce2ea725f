package command

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reiase/probing/internal/log"
	"github.com/reiase/probing/internal/proto"
)

// Session is one client connection: a sequence of framed requests
// handled strictly in order. Requests within a session never run
// concurrently, so response frames for one request id are emitted in
// execution order with no interleaving; distinct sessions run on their
// own goroutines.
type Session struct {
	id   string
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	mu        sync.Mutex
	principal string
	authed    bool

	cancel context.CancelFunc
}

func newSession(conn net.Conn) *Session {
	return &Session{
		id:   uuid.NewString(),
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Authenticated reports whether a Hello with valid credentials has been
// accepted on this session.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

// Principal returns the authenticated principal, if any.
func (s *Session) Principal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}

func (s *Session) setPrincipal(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = p
	s.authed = true
}

// sessionWriter scopes a ResponseWriter to one request id.
type sessionWriter struct {
	sess  *Session
	reqID uint32
}

func (w sessionWriter) WriteFrame(kind proto.Kind, payload []byte) error {
	return proto.WriteFrame(w.sess.w, proto.Frame{Kind: kind, ReqID: w.reqID, Payload: payload})
}

// serve runs the session's read-dispatch loop until the connection
// closes or ctx is cancelled. Closing the session cancels its in-flight
// request via ctx.
func (s *Session) serve(ctx context.Context, handler Handler) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	for {
		payloadLen, kind, reqID, err := proto.PeekFrameHeader(s.r)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Debug("session read failed", zap.String("session", s.id), zap.Error(err))
			}
			return
		}
		if payloadLen < 0 || payloadLen > proto.MaxFrameLength {
			// Unframeable stream; nothing sane can follow.
			w := sessionWriter{sess: s, reqID: reqID}
			w.WriteFrame(proto.KindErrorFrame, proto.ErrorFramePayload(
				proto.NewError(proto.ErrBadRequest, "declared frame length %d out of bounds", payloadLen)))
			s.w.Flush()
			return
		}

		req := &Request{
			Kind:         kind,
			ReqID:        reqID,
			Path:         pathForKind(kind),
			DeclaredSize: payloadLen,
			load: func(n int) ([]byte, error) {
				return proto.ReadFramePayload(s.r, n)
			},
		}
		w := sessionWriter{sess: s, reqID: reqID}

		err = handler(ctx, s, req, w)

		// A handler that rejected before touching the body (e.g. the
		// size-limit middleware) leaves the payload on the stream;
		// discard it without allocating so the next frame parses.
		if !req.Consumed() && payloadLen > 0 {
			if _, derr := io.CopyN(io.Discard, s.r, int64(payloadLen)); derr != nil {
				return
			}
		}

		if err != nil {
			pe := proto.AsError(err)
			if ctx.Err() != nil {
				pe = proto.NewError(proto.ErrCancelled, "request cancelled")
			}
			if werr := w.WriteFrame(proto.KindErrorFrame, proto.ErrorFramePayload(pe)); werr != nil {
				return
			}
		}
		if err := s.w.Flush(); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Close terminates the session, cancelling any in-flight request.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.conn.Close()
}
