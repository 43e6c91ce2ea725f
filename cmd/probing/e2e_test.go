package main

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiase/probing/internal/agent"
	"github.com/reiase/probing/internal/discovery"
	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/pkg/client"
)

// TestEndToEnd drives a real in-process agent over its unix endpoint,
// bypassing only the ptrace injection step (which needs tracer
// privileges and a separate victim process; the injector has its own
// fake-backend tests). The agent is a process-wide singleton, so the
// scenarios share one bootstrap and run as subtests.
func TestEndToEnd(t *testing.T) {
	t.Setenv("PROBING", "followed")
	t.Setenv("PROBING_DISCOVERY_DIR", t.TempDir())

	a, err := agent.Bootstrap()
	require.NoError(t, err)
	require.NotNil(t, a)
	t.Cleanup(a.Shutdown)

	c, err := client.Dial(a.SocketPath())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	t.Run("discovery entry published", func(t *testing.T) {
		entry, err := discovery.Lookup(os.Getpid())
		require.NoError(t, err)
		assert.Equal(t, a.SocketPath(), entry.SocketPath)
	})

	// Scenario 1, query half: the settings table answers over the wire.
	t.Run("settings query", func(t *testing.T) {
		schema, pages, err := c.Query(
			"SELECT name, value FROM information_schema.df_settings WHERE name LIKE 'script.%' LIMIT 1")
		require.NoError(t, err)
		require.Len(t, schema, 2)
		require.Len(t, pages, 1)
		require.Equal(t, 1, pages[0].NumRows())
		assert.Contains(t, pages[0].Columns[0].Strings[0], "script.")
	})

	// Scenario 2: backtrace depth 0 is the deepest frame.
	t.Run("backtrace", func(t *testing.T) {
		_, page, err := c.Backtrace(0, false)
		require.NoError(t, err)
		require.Greater(t, page.NumRows(), 0)
		assert.Equal(t, int64(0), page.Columns[1].Ints[0])
		assert.NotEmpty(t, page.Columns[2].Strings[0])
	})

	// Scenario 3: a raising evaluation is isolated, and the session
	// keeps working afterwards.
	t.Run("eval sandboxing", func(t *testing.T) {
		_, err := c.Eval(`panic("boom")`, true)
		require.Error(t, err)
		pe := proto.AsError(err)
		assert.Equal(t, proto.ErrRuntimeFault, pe.Category)
		assert.Contains(t, pe.Message, "boom")

		out, err := c.Eval(`import "fmt"
fmt.Println(1 + 2)`, true)
		require.NoError(t, err)
		assert.Equal(t, "3\n", string(out))
	})

	// Scenario 4: series round-trip, including the Conflict on a
	// timestamp below the high-water mark.
	t.Run("series round trip", func(t *testing.T) {
		s, err := a.SeriesStore().GetOrCreate("metric")
		require.NoError(t, err)
		require.NoError(t, s.Append(1, 10))
		require.NoError(t, s.Append(2, 20))
		require.NoError(t, s.Append(3, 30))

		_, pages, err := c.Query("SELECT ts, value FROM series.metric ORDER BY ts")
		require.NoError(t, err)
		require.Len(t, pages, 1)
		page := pages[0]
		require.Equal(t, 3, page.NumRows())
		assert.Equal(t, []int64{1, 2, 3}, page.Columns[0].Timestamps)
		assert.Equal(t, []float64{10, 20, 30}, page.Columns[1].Floats)

		err = s.Append(2, 99)
		require.Error(t, err)
		assert.Equal(t, proto.ErrConflict, proto.AsError(err).Category)
	})

	// Remote series appends go through the dispatch_call surface.
	t.Run("series append via call", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			_, err := c.Call("/series/append", map[string]string{
				"name": "remote", "ts": fmt.Sprintf("%d", i), "value": fmt.Sprintf("%d.5", i)}, nil)
			require.NoError(t, err)
		}
		_, pages, err := c.Query("SELECT value FROM series.remote ORDER BY ts")
		require.NoError(t, err)
		require.Len(t, pages, 1)
		assert.Equal(t, []float64{1.5, 2.5, 3.5}, pages[0].Columns[0].Floats)
	})

	t.Run("flamegraph endpoint", func(t *testing.T) {
		_, err := c.Config([]proto.ConfigPair{{Key: "script.sampler.enabled", Value: "true"}}, false, "")
		require.NoError(t, err)
		defer c.Config([]proto.ConfigPair{{Key: "script.sampler.enabled", Value: "false"}}, false, "")

		// The rendering may be empty before the first tick; the call
		// surface itself must succeed.
		_, err = c.Call("/flamegraph", nil, nil)
		require.NoError(t, err)
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		out, err := c.Call("/metrics", nil, nil)
		require.NoError(t, err)
		assert.Contains(t, string(out), "probing_requests_total")
	})

	t.Run("process table", func(t *testing.T) {
		_, pages, err := c.Query("SELECT pid FROM system.process")
		require.NoError(t, err)
		require.Len(t, pages, 1)
		assert.Equal(t, int64(os.Getpid()), pages[0].Columns[0].Ints[0])
	})
}
