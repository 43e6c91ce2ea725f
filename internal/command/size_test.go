package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiase/probing/internal/proto"
)

// TestSizeLimitRejectsBeforeAllocation drives the middleware directly
// with a request whose body loader fails the test if invoked: P8
// requires rejection on the declared length alone, before any body
// buffer is allocated.
func TestSizeLimitRejectsBeforeAllocation(t *testing.T) {
	mw := SizeLimitMiddleware(func() int64 { return 1024 })
	handler := mw(func(ctx context.Context, sess *Session, req *Request, w ResponseWriter) error {
		t.Fatal("handler reached for an oversize request")
		return nil
	})

	req := &Request{
		Kind:         proto.KindQueryRequest,
		DeclaredSize: 2048,
		load: func(n int) ([]byte, error) {
			t.Fatal("body allocated for an oversize request")
			return nil, nil
		},
	}
	err := handler(context.Background(), nil, req, nil)
	require.Error(t, err)
	assert.Equal(t, proto.ErrBadRequest, proto.AsError(err).Category)
	assert.False(t, req.Consumed())
}

func TestSizeLimitPassesSmallRequests(t *testing.T) {
	mw := SizeLimitMiddleware(func() int64 { return 1024 })
	called := false
	handler := mw(func(ctx context.Context, sess *Session, req *Request, w ResponseWriter) error {
		called = true
		return nil
	})
	req := &Request{DeclaredSize: 512, load: func(n int) ([]byte, error) { return nil, nil }}
	require.NoError(t, handler(context.Background(), nil, req, nil))
	assert.True(t, called)
}

// TestSizeLimitOverWire verifies the session drains a rejected payload
// so the connection stays framed for the next request.
func TestSizeLimitOverWire(t *testing.T) {
	srv, _ := newTestServer(t, Config{MaxRequestSize: 64})
	conn, r := dialTestServer(t, srv)

	big := proto.EncodeQueryRequest(proto.QueryRequest{Text: string(make([]byte, 256))})
	sendFrame(t, conn, proto.KindQueryRequest, 1, big)
	frames := readResponse(t, r)
	require.Equal(t, proto.KindErrorFrame, frames[0].Kind)
	pe, err := proto.DecodeErrorFrame(frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, proto.ErrBadRequest, pe.Category)

	sendFrame(t, conn, proto.KindConfigRequest, 2, proto.EncodeConfigRequest(proto.ConfigRequest{List: true}))
	frames = readResponse(t, r)
	assert.Equal(t, proto.KindConfigResult, frames[0].Kind)
}

func TestSizeLimitUpdatableViaOption(t *testing.T) {
	srv, reg := newTestServer(t, Config{MaxRequestSize: 1 << 20})
	_, err := reg.SetOption("server.max_request_size", "32")
	require.NoError(t, err)

	conn, r := dialTestServer(t, srv)
	payload := proto.EncodeQueryRequest(proto.QueryRequest{Text: string(make([]byte, 128))})
	sendFrame(t, conn, proto.KindQueryRequest, 1, payload)
	frames := readResponse(t, r)
	require.Equal(t, proto.KindErrorFrame, frames[0].Kind)
}
