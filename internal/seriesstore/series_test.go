package seriesstore

import (
	"testing"

	"github.com/reiase/probing/internal/proto"
	"github.com/stretchr/testify/require"
)

// TestSeriesAppendReadRoundTrip: read(since, until) is monotonic
// non-decreasing and equals the successful appends in the window, and
// an append below the high-water mark is a Conflict.
func TestSeriesAppendReadRoundTrip(t *testing.T) {
	s, err := NewSeries("metric", 1024, Retention{})
	require.NoError(t, err)

	require.NoError(t, s.Append(1, 10))
	require.NoError(t, s.Append(2, 20))
	require.NoError(t, s.Append(3, 30))

	rows, err := s.Read(minInt64, maxInt64)
	require.NoError(t, err)
	require.Equal(t, []Row{{1, 10}, {2, 20}, {3, 30}}, rows)

	err = s.Append(2, 99)
	require.Error(t, err)
	pe, ok := err.(*proto.Error)
	require.True(t, ok)
	require.Equal(t, proto.ErrConflict, pe.Category)
}

func TestSeriesSealsAndCompresses(t *testing.T) {
	s, err := NewSeries("metric", 4, Retention{})
	require.NoError(t, err)

	for i := int64(0); i < 10; i++ {
		require.NoError(t, s.Append(i, float64(i)*1.5))
	}
	require.GreaterOrEqual(t, len(s.sealed), 2, "expects at least two sealed chunks after 10 rows with chunk size 4")

	rows, err := s.Read(minInt64, maxInt64)
	require.NoError(t, err)
	require.Len(t, rows, 10)
	for i, r := range rows {
		require.Equal(t, int64(i), r.Timestamp)
		require.InDelta(t, float64(i)*1.5, r.Value, 1e-9)
	}
}

func TestSeriesRetentionByChunkCount(t *testing.T) {
	s, err := NewSeries("metric", 2, Retention{MaxChunks: 2})
	require.NoError(t, err)

	for i := int64(0); i < 12; i++ {
		require.NoError(t, s.Append(i, float64(i)))
	}
	require.LessOrEqual(t, len(s.sealed), 2)

	rows, err := s.Read(minInt64, maxInt64)
	require.NoError(t, err)
	// the oldest rows should have been evicted; the most recent rows must survive
	require.Contains(t, rowTimestamps(rows), int64(11))
}

func TestSeriesReadWindow(t *testing.T) {
	s, err := NewSeries("metric", 100, Retention{})
	require.NoError(t, err)
	for i := int64(0); i < 20; i++ {
		require.NoError(t, s.Append(i, float64(i)))
	}
	rows, err := s.Read(5, 10)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	require.Equal(t, int64(5), rows[0].Timestamp)
	require.Equal(t, int64(10), rows[len(rows)-1].Timestamp)
}

func rowTimestamps(rows []Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.Timestamp
	}
	return out
}
