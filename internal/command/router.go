package command

import (
	"context"
	"strings"

	"github.com/reiase/probing/internal/extension"
	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/internal/query"
	"github.com/reiase/probing/internal/script"
)

// Router dispatches decoded requests to the query engine, script
// bridge, and extension registry.
type Router struct {
	reg    *extension.Registry
	bridge *script.Bridge
	auth   *Authenticator
}

// NewRouter builds the router the server's middleware chain terminates
// in.
func NewRouter(reg *extension.Registry, bridge *script.Bridge, auth *Authenticator) *Router {
	return &Router{reg: reg, bridge: bridge, auth: auth}
}

// Handle is the innermost Handler of the middleware chain.
func (rt *Router) Handle(ctx context.Context, sess *Session, req *Request, w ResponseWriter) error {
	body, err := req.Body()
	if err != nil {
		return proto.NewError(proto.ErrBadRequest, "read request body: %v", err)
	}

	switch req.Kind {
	case proto.KindHelloRequest:
		return rt.handleHello(sess, body, w)
	case proto.KindQueryRequest:
		return rt.handleQuery(ctx, body, w)
	case proto.KindEvalRequest:
		return rt.handleEval(ctx, body, w)
	case proto.KindBacktraceRequest:
		return rt.handleBacktrace(ctx, body, w)
	case proto.KindConfigRequest:
		return rt.handleConfig(body, w)
	case proto.KindInjectRequest:
		return rt.handleInject(body, w)
	case proto.KindCallRequest:
		return rt.handleCall(body, w)
	default:
		return proto.NewError(proto.ErrBadRequest, "unknown request kind %d", req.Kind)
	}
}

func (rt *Router) handleHello(sess *Session, body []byte, w ResponseWriter) error {
	hello, err := proto.DecodeHelloRequest(body)
	if err != nil {
		return proto.NewError(proto.ErrBadRequest, "malformed hello: %v", err)
	}
	principal, err := rt.auth.Verify(hello)
	if err != nil {
		return err
	}
	sess.setPrincipal(principal)
	return w.WriteFrame(proto.KindHelloResult, proto.EncodeHelloResult(proto.HelloResult{Principal: principal}))
}

func (rt *Router) handleQuery(ctx context.Context, body []byte, w ResponseWriter) error {
	qr, err := proto.DecodeQueryRequest(body)
	if err != nil {
		return proto.NewError(proto.ErrBadRequest, "malformed query request: %v", err)
	}
	stmt, err := query.Parse(qr.Text)
	if err != nil {
		return proto.NewError(proto.ErrBadRequest, "parse query: %v", err)
	}
	schema, pages, err := query.Execute(ctx, rt.reg, stmt)
	if err != nil {
		if ctx.Err() != nil {
			return proto.NewError(proto.ErrCancelled, "query cancelled")
		}
		return err
	}
	if err := w.WriteFrame(proto.KindSchema, proto.EncodeSchema(schema)); err != nil {
		return err
	}
	for _, page := range pages {
		if ctx.Err() != nil {
			return proto.NewError(proto.ErrCancelled, "query cancelled")
		}
		if err := w.WriteFrame(proto.KindPage, proto.EncodePage(page)); err != nil {
			return err
		}
	}
	return w.WriteFrame(proto.KindDone, nil)
}

func (rt *Router) handleEval(ctx context.Context, body []byte, w ResponseWriter) error {
	er, err := proto.DecodeEvalRequest(body)
	if err != nil {
		return proto.NewError(proto.ErrBadRequest, "malformed eval request: %v", err)
	}
	res := rt.bridge.Eval(ctx, er.Code, er.CaptureStdout)
	if res.Err != nil {
		return proto.NewError(proto.ErrRuntimeFault, "%v", res.Err)
	}
	return w.WriteFrame(proto.KindBytesResult, res.Stdout)
}

var backtraceSchema = proto.Schema{
	{Name: "tid", Type: proto.TypeInt64},
	{Name: "depth", Type: proto.TypeInt64},
	{Name: "func", Type: proto.TypeString},
	{Name: "file", Type: proto.TypeString},
	{Name: "lineno", Type: proto.TypeInt64},
	{Name: "frame_type", Type: proto.TypeString},
	{Name: "ip", Type: proto.TypeUint64},
}

func (rt *Router) handleBacktrace(ctx context.Context, body []byte, w ResponseWriter) error {
	br, err := proto.DecodeBacktraceRequest(body)
	if err != nil {
		return proto.NewError(proto.ErrBadRequest, "malformed backtrace request: %v", err)
	}
	var tid int64
	if br.HasTID {
		tid = br.TID
	}
	frames, err := rt.bridge.Backtrace(ctx, tid)
	if err != nil {
		return proto.NewError(proto.ErrNotFound, "%v", err)
	}
	page := backtracePage(tid, frames)
	if err := w.WriteFrame(proto.KindSchema, proto.EncodeSchema(backtraceSchema)); err != nil {
		return err
	}
	if err := w.WriteFrame(proto.KindPage, proto.EncodePage(page)); err != nil {
		return err
	}
	return w.WriteFrame(proto.KindDone, nil)
}

func backtracePage(tid int64, frames []script.StackFrame) proto.Page {
	n := len(frames)
	tids := make([]int64, n)
	depths := make([]int64, n)
	funcs := make([]string, n)
	files := make([]string, n)
	lines := make([]int64, n)
	kinds := make([]string, n)
	ips := make([]uint64, n)
	ipNulls := make([]bool, n)
	for i, f := range frames {
		tids[i] = tid
		depths[i] = int64(f.Depth)
		funcs[i] = f.Func
		files[i] = f.File
		lines[i] = int64(f.Line)
		if f.Kind == script.FrameInterpreted {
			kinds[i] = "interpreted"
		} else {
			kinds[i] = "native"
		}
		if f.HasIP {
			ips[i] = f.IP
		} else {
			ipNulls[i] = true
		}
	}
	return proto.Page{Columns: []proto.Column{
		{Name: "tid", Type: proto.TypeInt64, Ints: tids},
		{Name: "depth", Type: proto.TypeInt64, Ints: depths},
		{Name: "func", Type: proto.TypeString, Strings: funcs},
		{Name: "file", Type: proto.TypeString, Strings: files},
		{Name: "lineno", Type: proto.TypeInt64, Ints: lines},
		{Name: "frame_type", Type: proto.TypeString, Strings: kinds},
		{Name: "ip", Type: proto.TypeUint64, Uints: ips, Nulls: ipNulls},
	}}
}

func (rt *Router) handleConfig(body []byte, w ResponseWriter) error {
	cr, err := proto.DecodeConfigRequest(body)
	if err != nil {
		return proto.NewError(proto.ErrBadRequest, "malformed config request: %v", err)
	}
	for _, pair := range cr.Pairs {
		if _, err := rt.reg.SetOption(pair.Key, pair.Value); err != nil {
			return err
		}
	}
	var listed []proto.OptionEntry
	if cr.List {
		for _, e := range rt.reg.ListOptions() {
			if cr.Prefix == "" || strings.HasPrefix(e.Key, cr.Prefix) {
				listed = append(listed, e)
			}
		}
	}
	return w.WriteFrame(proto.KindConfigResult, proto.EncodeConfigResult(proto.ConfigResult{Listed: listed}))
}

func (rt *Router) handleInject(body []byte, w ResponseWriter) error {
	ir, err := proto.DecodeInjectRequest(body)
	if err != nil {
		return proto.NewError(proto.ErrBadRequest, "malformed inject request: %v", err)
	}
	for _, pair := range ir.Options {
		if _, err := rt.reg.SetOption(pair.Key, pair.Value); err != nil {
			return err
		}
	}
	return w.WriteFrame(proto.KindConfigResult, proto.EncodeConfigResult(proto.ConfigResult{}))
}

func (rt *Router) handleCall(body []byte, w ResponseWriter) error {
	call, err := proto.DecodeCallRequest(body)
	if err != nil {
		return proto.NewError(proto.ErrBadRequest, "malformed call request: %v", err)
	}
	out, err := rt.reg.DispatchCall(call.Path, call.Params, call.Body)
	if err != nil {
		return err
	}
	return w.WriteFrame(proto.KindBytesResult, out)
}
