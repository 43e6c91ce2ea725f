package discovery

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishLookupRemove(t *testing.T) {
	t.Setenv("PROBING_DISCOVERY_DIR", t.TempDir())

	pid := os.Getpid()
	entry := Entry{PID: pid, SocketPath: "/tmp/probing-test.sock", TCPPort: 9922}
	require.NoError(t, Publish(entry))

	got, err := Lookup(pid)
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	entries, err := List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, pid, entries[0].PID)

	require.NoError(t, Remove(pid))
	_, err = Lookup(pid)
	require.Error(t, err)

	// Removing an already-removed entry is not an error.
	require.NoError(t, Remove(pid))
}

func TestListPrunesDeadProcesses(t *testing.T) {
	t.Setenv("PROBING_DISCOVERY_DIR", t.TempDir())

	// A pid far above any real one on the test machine.
	require.NoError(t, Publish(Entry{PID: 1 << 22, SocketPath: "/tmp/stale.sock"}))
	require.NoError(t, Publish(Entry{PID: os.Getpid(), SocketPath: "/tmp/live.sock"}))

	entries, err := List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, os.Getpid(), entries[0].PID)
}

func TestEntryEndpoint(t *testing.T) {
	assert.Equal(t, "/run/p.sock", Entry{SocketPath: "/run/p.sock", TCPPort: 80}.Endpoint())
	assert.Equal(t, "tcp:127.0.0.1:9700", Entry{TCPPort: 9700}.Endpoint())
}
