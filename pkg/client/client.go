// Package client is the Go client for the agent's framed wire
// protocol, used by the CLI and by end-to-end tests. One Client wraps
// one session; methods are safe for sequential use only, matching the
// protocol's one-request-at-a-time session discipline.
package client

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/reiase/probing/internal/proto"
)

// Client is one open session with an agent.
type Client struct {
	conn   net.Conn
	r      *bufio.Reader
	nextID uint32
}

// Dial connects to an agent endpoint: a unix-domain socket path, or
// "tcp:<host:port>".
func Dial(endpoint string) (*Client, error) {
	network, addr := "unix", endpoint
	if rest, ok := strings.CutPrefix(endpoint, "tcp:"); ok {
		network, addr = "tcp", rest
	}
	conn, err := net.DialTimeout(network, addr, 5*time.Second)
	if err != nil {
		return nil, proto.NewError(proto.ErrTargetUnreachable, "dial %s: %v", endpoint, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn)}
}

// Close ends the session.
func (c *Client) Close() error { return c.conn.Close() }

// send writes one request frame and returns its id.
func (c *Client) send(kind proto.Kind, payload []byte) (uint32, error) {
	c.nextID++
	id := c.nextID
	err := proto.WriteFrame(c.conn, proto.Frame{Kind: kind, ReqID: id, Payload: payload})
	return id, err
}

// recv reads the next frame for id, surfacing error frames as
// *proto.Error.
func (c *Client) recv(id uint32) (proto.Frame, error) {
	f, err := proto.ReadFrame(c.r)
	if err != nil {
		return proto.Frame{}, proto.NewError(proto.ErrTargetUnreachable, "read response: %v", err)
	}
	if f.ReqID != id {
		return proto.Frame{}, proto.NewError(proto.ErrInternal,
			"response for request %d while awaiting %d", f.ReqID, id)
	}
	if f.Kind == proto.KindErrorFrame {
		pe, derr := proto.DecodeErrorFrame(f.Payload)
		if derr != nil {
			return proto.Frame{}, proto.NewError(proto.ErrInternal, "undecodable error frame: %v", derr)
		}
		return proto.Frame{}, pe
	}
	return f, nil
}

// Hello authenticates the session; required before other requests when
// the agent has an auth token configured.
func (c *Client) Hello(cred proto.HelloRequest) (string, error) {
	id, err := c.send(proto.KindHelloRequest, proto.EncodeHelloRequest(cred))
	if err != nil {
		return "", err
	}
	f, err := c.recv(id)
	if err != nil {
		return "", err
	}
	if f.Kind != proto.KindHelloResult {
		return "", proto.NewError(proto.ErrInternal, "unexpected frame kind %d for hello", f.Kind)
	}
	res, err := proto.DecodeHelloResult(f.Payload)
	if err != nil {
		return "", err
	}
	return res.Principal, nil
}

// HelloBearer authenticates with a bearer token; an empty token is a
// no-op so callers can pass through an unset PROBING_AUTH_TOKEN.
func (c *Client) HelloBearer(token string) error {
	if token == "" {
		return nil
	}
	_, err := c.Hello(proto.HelloRequest{Kind: proto.CredentialBearer, Secret: token})
	return err
}

// Query runs one statement and collects the full result: the schema
// descriptor and every page up to the terminating done frame.
func (c *Client) Query(text string) (proto.Schema, []proto.Page, error) {
	id, err := c.send(proto.KindQueryRequest, proto.EncodeQueryRequest(proto.QueryRequest{Text: text}))
	if err != nil {
		return nil, nil, err
	}

	f, err := c.recv(id)
	if err != nil {
		return nil, nil, err
	}
	if f.Kind != proto.KindSchema {
		return nil, nil, proto.NewError(proto.ErrInternal, "expected schema frame, got kind %d", f.Kind)
	}
	schema, err := proto.DecodeSchema(f.Payload)
	if err != nil {
		return nil, nil, err
	}

	var pages []proto.Page
	for {
		f, err := c.recv(id)
		if err != nil {
			return schema, pages, err
		}
		switch f.Kind {
		case proto.KindPage:
			page, err := proto.DecodePage(f.Payload)
			if err != nil {
				return schema, pages, err
			}
			pages = append(pages, page)
		case proto.KindDone:
			return schema, pages, nil
		default:
			return schema, pages, proto.NewError(proto.ErrInternal, "unexpected frame kind %d in query stream", f.Kind)
		}
	}
}

// Eval runs code inside the target's interpreter and returns captured
// stdout.
func (c *Client) Eval(code string, captureStdout bool) ([]byte, error) {
	id, err := c.send(proto.KindEvalRequest, proto.EncodeEvalRequest(proto.EvalRequest{
		Code: code, CaptureStdout: captureStdout}))
	if err != nil {
		return nil, err
	}
	f, err := c.recv(id)
	if err != nil {
		return nil, err
	}
	if f.Kind != proto.KindBytesResult {
		return nil, proto.NewError(proto.ErrInternal, "unexpected frame kind %d for eval", f.Kind)
	}
	return f.Payload, nil
}

// Backtrace captures a stack for tid (pass hasTID=false for the main
// thread) and returns the single result page.
func (c *Client) Backtrace(tid int64, hasTID bool) (proto.Schema, proto.Page, error) {
	id, err := c.send(proto.KindBacktraceRequest, proto.EncodeBacktraceRequest(proto.BacktraceRequest{
		HasTID: hasTID, TID: tid}))
	if err != nil {
		return nil, proto.Page{}, err
	}
	f, err := c.recv(id)
	if err != nil {
		return nil, proto.Page{}, err
	}
	schema, err := proto.DecodeSchema(f.Payload)
	if err != nil {
		return nil, proto.Page{}, err
	}
	f, err = c.recv(id)
	if err != nil {
		return schema, proto.Page{}, err
	}
	page, err := proto.DecodePage(f.Payload)
	if err != nil {
		return schema, proto.Page{}, err
	}
	if _, err := c.recv(id); err != nil { // done frame
		return schema, page, err
	}
	return schema, page, nil
}

// Config sets zero or more options and optionally lists those matching
// prefix.
func (c *Client) Config(pairs []proto.ConfigPair, list bool, prefix string) ([]proto.OptionEntry, error) {
	id, err := c.send(proto.KindConfigRequest, proto.EncodeConfigRequest(proto.ConfigRequest{
		Pairs: pairs, List: list, Prefix: prefix}))
	if err != nil {
		return nil, err
	}
	f, err := c.recv(id)
	if err != nil {
		return nil, err
	}
	res, err := proto.DecodeConfigResult(f.Payload)
	if err != nil {
		return nil, err
	}
	return res.Listed, nil
}

// Inject updates options on an already-loaded agent.
func (c *Client) Inject(pairs []proto.ConfigPair) error {
	id, err := c.send(proto.KindInjectRequest, proto.EncodeInjectRequest(proto.InjectRequest{Options: pairs}))
	if err != nil {
		return err
	}
	_, err = c.recv(id)
	return err
}

// Call invokes a command extension by path (e.g. "/flamegraph",
// "/metrics", "/static/<file>").
func (c *Client) Call(path string, params map[string]string, body []byte) ([]byte, error) {
	id, err := c.send(proto.KindCallRequest, proto.EncodeCallRequest(proto.CallRequest{
		Path: path, Params: params, Body: body}))
	if err != nil {
		return nil, err
	}
	f, err := c.recv(id)
	if err != nil {
		return nil, err
	}
	if f.Kind != proto.KindBytesResult {
		return nil, proto.NewError(proto.ErrInternal, "unexpected frame kind %d for call", f.Kind)
	}
	return f.Payload, nil
}

// String renders the client's remote address for logging.
func (c *Client) String() string {
	return fmt.Sprintf("client{%s}", c.conn.RemoteAddr())
}
