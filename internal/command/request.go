// Package command implements the agent's embedded command server: a
// listener accepting framed requests over unix-domain or TCP stream
// endpoints, per-connection sessions, a middleware chain (size limit,
// logging, metrics, authentication), and the router that dispatches
// request kinds to the query engine, script bridge, and extension
// registry. The file-access guard is the StaticFiles command extension
// the router reaches through call dispatch.
package command

import (
	"context"

	"github.com/reiase/probing/internal/proto"
)

// Request is one framed request as seen by the middleware chain. The
// payload is materialized lazily through Body so the size-limit
// middleware can reject on the declared length alone, before any body
// buffer is allocated.
type Request struct {
	Kind         proto.Kind
	ReqID        uint32
	Path         string
	DeclaredSize int

	load     func(n int) ([]byte, error)
	payload  []byte
	consumed bool
}

// Body reads and returns the request payload, at most once.
func (r *Request) Body() ([]byte, error) {
	if r.consumed {
		return r.payload, nil
	}
	p, err := r.load(r.DeclaredSize)
	if err != nil {
		return nil, err
	}
	r.payload = p
	r.consumed = true
	return p, nil
}

// Consumed reports whether the payload has been read off the stream.
func (r *Request) Consumed() bool { return r.consumed }

// ResponseWriter emits response frames for the request being handled.
// The session fills in the request id and guarantees frames for one
// request are never interleaved with another's.
type ResponseWriter interface {
	WriteFrame(kind proto.Kind, payload []byte) error
}

// Handler processes one request. A returned error is converted to a
// single error frame by the session; handlers that have already written
// response frames should not also return an error.
type Handler func(ctx context.Context, sess *Session, req *Request, w ResponseWriter) error

// Middleware wraps a Handler, a gRPC-style interceptor chain reduced
// to plain functions.
type Middleware func(Handler) Handler

// Chain applies middlewares to h so that the first middleware in the
// slice is the outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// pathForKind maps a request kind to the routing path the middleware
// chain (auth public-prefix matching, logging) keys on. Call requests
// use their own embedded path instead.
func pathForKind(kind proto.Kind) string {
	switch kind {
	case proto.KindQueryRequest:
		return "/query"
	case proto.KindEvalRequest:
		return "/eval"
	case proto.KindBacktraceRequest:
		return "/backtrace"
	case proto.KindConfigRequest:
		return "/config"
	case proto.KindInjectRequest:
		return "/inject"
	case proto.KindHelloRequest:
		return "/hello"
	case proto.KindCallRequest:
		return "/call"
	default:
		return "/unknown"
	}
}
