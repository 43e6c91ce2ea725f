package command

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/reiase/probing/internal/proto"
)

// TestServerServeAndClose exercises the real accept loop over a unix
// listener and verifies Close reaps every session goroutine.
func TestServerServeAndClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv, _ := newTestServer(t, Config{})
	sock := filepath.Join(t.TempDir(), "cmd.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		srv.Serve(l)
		close(done)
	}()

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	r := bufio.NewReader(conn)

	sendFrame(t, conn, proto.KindConfigRequest, 1, proto.EncodeConfigRequest(proto.ConfigRequest{List: true}))
	frames := readResponse(t, r)
	require.Equal(t, proto.KindConfigResult, frames[0].Kind)

	// A second concurrent session works independently.
	conn2, err := net.Dial("unix", sock)
	require.NoError(t, err)
	r2 := bufio.NewReader(conn2)
	sendFrame(t, conn2, proto.KindConfigRequest, 1, proto.EncodeConfigRequest(proto.ConfigRequest{List: true}))
	frames = readResponse(t, r2)
	require.Equal(t, proto.KindConfigResult, frames[0].Kind)

	conn.Close()
	conn2.Close()
	require.NoError(t, srv.Close())
	<-done
}

func TestServerCloseIsIdempotent(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
}
