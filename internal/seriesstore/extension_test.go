package seriesstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiase/probing/internal/proto"
)

func TestExtensionOptions(t *testing.T) {
	e := NewExtension(NewStore(DefaultMaxChunkRows, Retention{}))

	require.NoError(t, e.SetOption("series.max_chunk_rows", "256"))
	v, err := e.GetOption("series.max_chunk_rows")
	require.NoError(t, err)
	assert.Equal(t, "256", v)

	require.NoError(t, e.SetOption("series.retention.max_chunks", "8"))
	require.NoError(t, e.SetOption("series.retention.max_bytes", "65536"))
	assert.Equal(t, Retention{MaxChunks: 8, MaxTotalBytes: 65536}, e.Store().Retention())

	err = e.SetOption("series.max_chunk_rows", "0")
	require.Error(t, err)
	err = e.SetOption("series.max_chunk_rows", "nope")
	require.Error(t, err)
	assert.Equal(t, proto.ErrBadRequest, proto.AsError(err).Category)
	_, err = e.GetOption("series.unknown")
	require.Error(t, err)
	assert.Equal(t, proto.ErrNotFound, proto.AsError(err).Category)
}

func TestExtensionAppendCall(t *testing.T) {
	e := NewExtension(NewStore(DefaultMaxChunkRows, Retention{}))

	_, err := e.HandleCall("/series/append",
		map[string]string{"name": "loss", "ts": "100", "value": "0.5"}, nil)
	require.NoError(t, err)
	_, err = e.HandleCall("/series/append",
		map[string]string{"name": "loss", "ts": "200", "value": "0.25"}, nil)
	require.NoError(t, err)

	s, ok := e.Store().Get("loss")
	require.True(t, ok)
	rows, err := s.Snapshot()
	require.NoError(t, err)
	require.Equal(t, []Row{{100, 0.5}, {200, 0.25}}, rows)

	// Out-of-order appends surface the series' Conflict.
	_, err = e.HandleCall("/series/append",
		map[string]string{"name": "loss", "ts": "150", "value": "1"}, nil)
	require.Error(t, err)
	assert.Equal(t, proto.ErrConflict, proto.AsError(err).Category)

	// Malformed parameters are BadRequest.
	_, err = e.HandleCall("/series/append", map[string]string{"ts": "1", "value": "2"}, nil)
	require.Error(t, err)
	assert.Equal(t, proto.ErrBadRequest, proto.AsError(err).Category)
}

func TestExtensionNamespace(t *testing.T) {
	e := NewExtension(NewStore(DefaultMaxChunkRows, Retention{}))
	_, err := e.Store().GetOrCreate("throughput")
	require.NoError(t, err)

	ns, ok := e.Namespace("series")
	require.True(t, ok)
	assert.Equal(t, []string{"throughput"}, ns.Tables())
	_, ok = ns.Table("throughput")
	assert.True(t, ok)
	_, ok = ns.Table("absent")
	assert.False(t, ok)
}
