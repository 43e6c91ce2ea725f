package seriesstore

import (
	"sync"

	"github.com/reiase/probing/internal/proto"
)

// Retention bounds how many sealed chunks a series keeps. Both caps are
// enforced independently: an eviction runs whenever either one is
// exceeded.
type Retention struct {
	MaxChunks     int // 0 = no count-based cap
	MaxTotalBytes int // 0 = no byte-based cap
}

// DefaultMaxChunkRows is the row count at which the head chunk seals.
const DefaultMaxChunkRows = 1024

// Series is an ordered (timestamp, value) sequence for one scalar
// column, partitioned into compressed, immutable sealed chunks plus one
// mutable head chunk.
type Series struct {
	mu sync.Mutex

	name         string
	maxChunkRows int
	retention    Retention
	codec        *codec

	sealed []*sealedChunk
	head   *headChunk
	hwm    int64
	hasHWM bool
}

// NewSeries creates an empty series. maxChunkRows <= 0 uses
// DefaultMaxChunkRows.
func NewSeries(name string, maxChunkRows int, retention Retention) (*Series, error) {
	c, err := newCodec()
	if err != nil {
		return nil, err
	}
	if maxChunkRows <= 0 {
		maxChunkRows = DefaultMaxChunkRows
	}
	return &Series{
		name:         name,
		maxChunkRows: maxChunkRows,
		retention:    retention,
		codec:        c,
		head:         &headChunk{},
	}, nil
}

// Append adds one (timestamp, value) row. It fails with a Conflict error
// if timestamp is less than the series' current high-water mark.
func (s *Series) Append(ts int64, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasHWM && ts < s.hwm {
		return proto.NewError(proto.ErrConflict,
			"append to series %q: timestamp %d is before high-water mark %d", s.name, ts, s.hwm)
	}

	s.head.append(ts, value)
	s.hwm = ts
	s.hasHWM = true

	if s.head.len() >= s.maxChunkRows {
		s.sealHeadLocked()
	}
	return nil
}

// sealHeadLocked closes the current head chunk, compresses it, appends
// it to the sealed list, enforces retention, and starts a fresh head.
// Caller must hold s.mu.
func (s *Series) sealHeadLocked() {
	if s.head.len() == 0 {
		return
	}
	compressed := s.codec.encodeChunk(s.head.timestamps, s.head.values)
	chunk := &sealedChunk{
		minTS:      s.head.timestamps[0],
		maxTS:      s.head.timestamps[s.head.len()-1],
		rows:       s.head.len(),
		compressed: compressed,
		rawBytes:   16 * s.head.len(),
	}
	s.sealed = append(s.sealed, chunk)
	s.head = &headChunk{}
	s.evictLocked()
}

// evictLocked drops oldest sealed chunks until both retention caps hold.
// Caller must hold s.mu.
func (s *Series) evictLocked() {
	for s.retention.MaxChunks > 0 && len(s.sealed) > s.retention.MaxChunks {
		s.sealed = s.sealed[1:]
	}
	for s.retention.MaxTotalBytes > 0 && s.totalSealedBytesLocked() > s.retention.MaxTotalBytes && len(s.sealed) > 0 {
		s.sealed = s.sealed[1:]
	}
}

func (s *Series) totalSealedBytesLocked() int {
	total := 0
	for _, c := range s.sealed {
		total += c.approxBytes()
	}
	return total
}

// Row is one decoded (timestamp, value) pair.
type Row struct {
	Timestamp int64
	Value     float64
}

// Read iterates sealed chunks in order, ending with the mutable head,
// returning every row whose timestamp falls in [since, until] (inclusive
// on both ends; callers wanting an open interval pass math.MinInt64 /
// math.MaxInt64 as appropriate).
func (s *Series) Read(since, until int64) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Row
	for _, chunk := range s.sealed {
		if chunk.maxTS < since || chunk.minTS > until {
			continue
		}
		ts, vals, err := s.codec.decodeChunk(chunk.compressed, chunk.rows)
		if err != nil {
			return nil, proto.NewError(proto.ErrRuntimeFault, "series %q: %v", s.name, err)
		}
		for i, t := range ts {
			if t >= since && t <= until {
				out = append(out, Row{Timestamp: t, Value: vals[i]})
			}
		}
	}
	for i, t := range s.head.timestamps {
		if t >= since && t <= until {
			out = append(out, Row{Timestamp: t, Value: s.head.values[i]})
		}
	}
	return out, nil
}

// Snapshot returns every row currently stored, oldest first.
func (s *Series) Snapshot() ([]Row, error) {
	return s.Read(minInt64, maxInt64)
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)
