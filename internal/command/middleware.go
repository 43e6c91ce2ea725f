package command

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/reiase/probing/internal/log"
	"github.com/reiase/probing/internal/proto"
)

// SizeLimitMiddleware rejects a request whose declared payload length
// exceeds maxBytes, before the body buffer is allocated. maxBytes is
// read per request so option updates take effect immediately.
func SizeLimitMiddleware(maxBytes func() int64) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, sess *Session, req *Request, w ResponseWriter) error {
			if limit := maxBytes(); limit > 0 && int64(req.DeclaredSize) > limit {
				return proto.NewError(proto.ErrBadRequest,
					"declared request size %d exceeds limit %d", req.DeclaredSize, limit)
			}
			return next(ctx, sess, req, w)
		}
	}
}

// LoggingMiddleware records method, path, declared size, outcome
// category and duration for every request.
func LoggingMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, sess *Session, req *Request, w ResponseWriter) error {
			start := time.Now()
			err := next(ctx, sess, req, w)
			outcome := "ok"
			if err != nil {
				outcome = proto.AsError(err).Category.String()
			}
			log.Debug("request",
				zap.String("session", sess.ID()),
				zap.String("path", req.Path),
				zap.Uint32("req_id", req.ReqID),
				zap.Int("declared_size", req.DeclaredSize),
				zap.String("outcome", outcome),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	}
}

// AuthMiddleware enforces session authentication when the configured
// token is non-empty. Hello requests always pass (they carry the
// credentials being verified); public-prefix paths bypass the check.
// Call requests are re-pathed to their embedded target path first, so
// that "/static/..." is public while "/flamegraph" is not.
func AuthMiddleware(auth *Authenticator) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, sess *Session, req *Request, w ResponseWriter) error {
			if req.Kind == proto.KindCallRequest {
				body, err := req.Body()
				if err != nil {
					return proto.NewError(proto.ErrBadRequest, "read call request: %v", err)
				}
				call, err := proto.DecodeCallRequest(body)
				if err != nil {
					return proto.NewError(proto.ErrBadRequest, "malformed call request: %v", err)
				}
				req.Path = call.Path
			}
			if !auth.Enabled() || req.Kind == proto.KindHelloRequest || auth.Public(req.Path) {
				return next(ctx, sess, req, w)
			}
			if !sess.Authenticated() {
				return proto.NewError(proto.ErrAuthRequired,
					"authentication required (realm %q)", auth.Realm())
			}
			return next(ctx, sess, req, w)
		}
	}
}

// MetricsMiddleware counts requests by path and outcome and observes
// their duration.
func MetricsMiddleware(m *Metrics) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, sess *Session, req *Request, w ResponseWriter) error {
			start := time.Now()
			err := next(ctx, sess, req, w)
			outcome := "ok"
			if err != nil {
				outcome = proto.AsError(err).Category.String()
			}
			m.ObserveRequest(req.Path, outcome, time.Since(start))
			return err
		}
	}
}
