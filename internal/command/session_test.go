package command

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiase/probing/internal/extension"
	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/internal/script"
)

// newTestServer builds a server over a fresh registry with the system
// extension (for information_schema.df_settings) and the server's own
// options registered.
func newTestServer(t *testing.T, cfg Config) (*Server, *extension.Registry) {
	t.Helper()
	reg := extension.NewRegistry()
	require.NoError(t, reg.Register(extension.NewSystemExtension(reg)))

	bridge := script.NewBridge(script.NewGoInterpreter())
	require.NoError(t, reg.Register(bridge))

	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = 1 << 20
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 1 << 20
	}
	srv := New(reg, bridge, cfg)
	require.NoError(t, reg.Register(srv))
	require.NoError(t, reg.Register(srv.StaticFiles()))
	t.Cleanup(func() { srv.Close() })
	return srv, reg
}

// dialTestServer connects a client pipe to srv and returns the client
// side plus a buffered reader over it.
func dialTestServer(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	client, server := net.Pipe()
	go srv.ServeConn(server)
	t.Cleanup(func() { client.Close() })
	return client, bufio.NewReader(client)
}

func sendFrame(t *testing.T, conn net.Conn, kind proto.Kind, reqID uint32, payload []byte) {
	t.Helper()
	require.NoError(t, proto.WriteFrame(conn, proto.Frame{Kind: kind, ReqID: reqID, Payload: payload}))
}

func readFrame(t *testing.T, r *bufio.Reader) proto.Frame {
	t.Helper()
	f, err := proto.ReadFrame(r)
	require.NoError(t, err)
	return f
}

// readResponse collects every frame for one request, up to and
// including the terminating KindDone, KindErrorFrame, or single-frame
// result kinds.
func readResponse(t *testing.T, r *bufio.Reader) []proto.Frame {
	t.Helper()
	var frames []proto.Frame
	for {
		f := readFrame(t, r)
		frames = append(frames, f)
		switch f.Kind {
		case proto.KindDone, proto.KindErrorFrame, proto.KindBytesResult,
			proto.KindConfigResult, proto.KindHelloResult:
			return frames
		}
	}
}

func TestSessionResponseOrdering(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	conn, r := dialTestServer(t, srv)

	const q = "SELECT name, value FROM information_schema.df_settings"
	sendFrame(t, conn, proto.KindQueryRequest, 7, proto.EncodeQueryRequest(proto.QueryRequest{Text: q}))
	first := readResponse(t, r)

	sendFrame(t, conn, proto.KindQueryRequest, 8, proto.EncodeQueryRequest(proto.QueryRequest{Text: q}))
	second := readResponse(t, r)

	// Every frame of a response carries its request's id, in execution
	// order (schema before pages before done), with no frames from the
	// other request interleaved.
	for _, f := range first {
		assert.Equal(t, uint32(7), f.ReqID)
	}
	for _, f := range second {
		assert.Equal(t, uint32(8), f.ReqID)
	}
	require.Equal(t, proto.KindSchema, first[0].Kind)
	require.Equal(t, proto.KindDone, first[len(first)-1].Kind)
	for _, f := range first[1 : len(first)-1] {
		assert.Equal(t, proto.KindPage, f.Kind)
	}
}

func TestSessionQueryReturnsSettings(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	conn, r := dialTestServer(t, srv)

	sendFrame(t, conn, proto.KindQueryRequest, 1, proto.EncodeQueryRequest(proto.QueryRequest{
		Text: "SELECT name, value FROM information_schema.df_settings WHERE name LIKE 'script.%' LIMIT 1",
	}))
	frames := readResponse(t, r)

	require.Equal(t, proto.KindSchema, frames[0].Kind)
	schema, err := proto.DecodeSchema(frames[0].Payload)
	require.NoError(t, err)
	require.Len(t, schema, 2)
	assert.Equal(t, "name", schema[0].Name)

	require.Equal(t, proto.KindPage, frames[1].Kind)
	page, err := proto.DecodePage(frames[1].Payload)
	require.NoError(t, err)
	require.Equal(t, 1, page.NumRows())
	assert.Contains(t, page.Columns[0].Strings[0], "script.")
}

func TestSessionUnparseableQuery(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	conn, r := dialTestServer(t, srv)

	sendFrame(t, conn, proto.KindQueryRequest, 3, proto.EncodeQueryRequest(proto.QueryRequest{Text: "SELEKT nope"}))
	frames := readResponse(t, r)

	require.Equal(t, proto.KindErrorFrame, frames[0].Kind)
	pe, err := proto.DecodeErrorFrame(frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, proto.ErrBadRequest, pe.Category)

	// A failed request never terminates its session.
	sendFrame(t, conn, proto.KindConfigRequest, 4, proto.EncodeConfigRequest(proto.ConfigRequest{List: true}))
	frames = readResponse(t, r)
	require.Equal(t, proto.KindConfigResult, frames[0].Kind)
}

func TestSessionConfigRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	conn, r := dialTestServer(t, srv)

	sendFrame(t, conn, proto.KindConfigRequest, 5, proto.EncodeConfigRequest(proto.ConfigRequest{
		Pairs:  []proto.ConfigPair{{Key: "script.eval.timeout_ms", Value: "2500"}},
		List:   true,
		Prefix: "script.eval.",
	}))
	frames := readResponse(t, r)
	require.Equal(t, proto.KindConfigResult, frames[0].Kind)
	res, err := proto.DecodeConfigResult(frames[0].Payload)
	require.NoError(t, err)
	require.Len(t, res.Listed, 1)
	assert.Equal(t, "script.eval.timeout_ms", res.Listed[0].Key)
	assert.Equal(t, "2500", res.Listed[0].Value)
	assert.Equal(t, "script", res.Listed[0].Owner)
}

func TestSessionBacktrace(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	conn, r := dialTestServer(t, srv)

	sendFrame(t, conn, proto.KindBacktraceRequest, 9, proto.EncodeBacktraceRequest(proto.BacktraceRequest{}))
	frames := readResponse(t, r)

	require.Equal(t, proto.KindSchema, frames[0].Kind)
	require.Equal(t, proto.KindPage, frames[1].Kind)
	page, err := proto.DecodePage(frames[1].Payload)
	require.NoError(t, err)
	require.Greater(t, page.NumRows(), 0)
	// Depth 0 is the deepest frame.
	assert.Equal(t, int64(0), page.Columns[1].Ints[0])
}

func TestSessionInjectUpdatesOptions(t *testing.T) {
	srv, reg := newTestServer(t, Config{})
	conn, r := dialTestServer(t, srv)

	sendFrame(t, conn, proto.KindInjectRequest, 2, proto.EncodeInjectRequest(proto.InjectRequest{
		Options: []proto.ConfigPair{{Key: "server.max_request_size", Value: "4096"}},
	}))
	frames := readResponse(t, r)
	require.Equal(t, proto.KindConfigResult, frames[0].Kind)

	v, err := reg.GetOption("server.max_request_size")
	require.NoError(t, err)
	assert.Equal(t, "4096", v)
}
