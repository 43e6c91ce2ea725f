package command

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiase/probing/internal/proto"
)

func TestAuthenticatorVerify(t *testing.T) {
	a := NewAuthenticator("secret", "admin", "probing", nil)

	t.Run("no credentials", func(t *testing.T) {
		_, err := a.Verify(proto.HelloRequest{Kind: proto.CredentialNone})
		require.Error(t, err)
		assert.Equal(t, proto.ErrAuthRequired, proto.AsError(err).Category)
	})

	t.Run("bearer match", func(t *testing.T) {
		p, err := a.Verify(proto.HelloRequest{Kind: proto.CredentialBearer, Secret: "secret"})
		require.NoError(t, err)
		assert.Equal(t, "bearer", p)
	})

	t.Run("bearer mismatch", func(t *testing.T) {
		_, err := a.Verify(proto.HelloRequest{Kind: proto.CredentialBearer, Secret: "wrong"})
		require.Error(t, err)
		assert.Equal(t, proto.ErrForbidden, proto.AsError(err).Category)
	})

	t.Run("basic match", func(t *testing.T) {
		p, err := a.Verify(proto.HelloRequest{Kind: proto.CredentialBasic, Username: "admin", Secret: "secret"})
		require.NoError(t, err)
		assert.Equal(t, "admin", p)
	})

	t.Run("basic wrong user", func(t *testing.T) {
		_, err := a.Verify(proto.HelloRequest{Kind: proto.CredentialBasic, Username: "root", Secret: "secret"})
		require.Error(t, err)
	})

	t.Run("custom header match", func(t *testing.T) {
		_, err := a.Verify(proto.HelloRequest{
			Kind: proto.CredentialCustomHeader, Header: CustomTokenHeader, Secret: "secret"})
		require.NoError(t, err)
	})

	t.Run("custom header wrong name", func(t *testing.T) {
		_, err := a.Verify(proto.HelloRequest{
			Kind: proto.CredentialCustomHeader, Header: "X-Other", Secret: "secret"})
		require.Error(t, err)
	})
}

func TestAuthenticatorDisabledAcceptsAnything(t *testing.T) {
	a := NewAuthenticator("", "admin", "probing", nil)
	assert.False(t, a.Enabled())
	p, err := a.Verify(proto.HelloRequest{Kind: proto.CredentialNone})
	require.NoError(t, err)
	assert.Equal(t, "anonymous", p)
}

func TestAuthenticatorPublicPrefixes(t *testing.T) {
	a := NewAuthenticator("secret", "admin", "probing", nil)
	assert.True(t, a.Public("/"))
	assert.True(t, a.Public("/static/app.js"))
	assert.True(t, a.Public("/favicon.ico"))
	assert.False(t, a.Public("/query"))
	assert.False(t, a.Public("/flamegraph"))
	// The bare "/" entry matches only the root, never as a prefix.
	assert.False(t, a.Public("/anything"))
}

// TestAuthGating: with a token configured, a query with no credentials
// receives AuthRequired; after a bearer hello it succeeds; a
// public-prefix file request succeeds without credentials.
func TestAuthGating(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	srv, _ := newTestServer(t, Config{
		AuthToken:    "secret",
		AuthUsername: "admin",
		AuthRealm:    "probing",
		FileRoots:    []string{dir},
	})
	conn, r := dialTestServer(t, srv)

	query := proto.EncodeQueryRequest(proto.QueryRequest{Text: "SELECT name FROM information_schema.df_settings"})

	sendFrame(t, conn, proto.KindQueryRequest, 1, query)
	frames := readResponse(t, r)
	require.Equal(t, proto.KindErrorFrame, frames[0].Kind)
	pe, err := proto.DecodeErrorFrame(frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, proto.ErrAuthRequired, pe.Category)

	// Public prefix bypasses auth even on an unauthenticated session.
	sendFrame(t, conn, proto.KindCallRequest, 2, proto.EncodeCallRequest(proto.CallRequest{Path: "/static/app.js"}))
	frames = readResponse(t, r)
	require.Equal(t, proto.KindBytesResult, frames[0].Kind)
	assert.Equal(t, "console.log(1)", string(frames[0].Payload))

	// Bad credentials are refused by constant-time comparison.
	sendFrame(t, conn, proto.KindHelloRequest, 3, proto.EncodeHelloRequest(proto.HelloRequest{
		Kind: proto.CredentialBearer, Secret: "not-secret"}))
	frames = readResponse(t, r)
	require.Equal(t, proto.KindErrorFrame, frames[0].Kind)

	sendFrame(t, conn, proto.KindHelloRequest, 4, proto.EncodeHelloRequest(proto.HelloRequest{
		Kind: proto.CredentialBearer, Secret: "secret"}))
	frames = readResponse(t, r)
	require.Equal(t, proto.KindHelloResult, frames[0].Kind)

	sendFrame(t, conn, proto.KindQueryRequest, 5, query)
	frames = readResponse(t, r)
	require.Equal(t, proto.KindSchema, frames[0].Kind)
	require.Equal(t, proto.KindDone, frames[len(frames)-1].Kind)
}

func TestStaticFilesPathSafety(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.txt"), []byte("ok"), 0o644))
	s := NewStaticFiles([]string{dir}, 4)

	_, err := s.Resolve("ok.txt")
	require.NoError(t, err)

	_, err = s.Resolve("../../etc/passwd")
	require.Error(t, err)

	_, err = s.Resolve("ok.txt\x00.png")
	require.Error(t, err)
	assert.Equal(t, proto.ErrBadRequest, proto.AsError(err).Category)

	// Oversize files are refused before reading.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), []byte("too large"), 0o644))
	_, err = s.HandleCall("/static/big.txt", nil, nil)
	require.Error(t, err)
	assert.Equal(t, proto.ErrForbidden, proto.AsError(err).Category)
}
