// Package seriesstore implements the append-only columnar time-series
// store: chunked, delta-encoded and zstd-compressed sealed chunks with a
// single mutable head chunk, and dual-cap (count or bytes) retention.
package seriesstore

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// codec holds the reusable zstd encoder/decoder pair, mirroring the
// lifecycle used for shared-memory compression elsewhere in the corpus:
// both are safe for concurrent use, and each series creates its own
// pair when it is created.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("seriesstore: create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("seriesstore: create zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

// encodeChunk delta-encodes timestamps (monotonic non-decreasing, so
// deltas are non-negative) and values (raw IEEE754 bits delta'd as
// integers, which compresses well for the common case of slowly varying
// metrics), then entropy-codes the resulting byte stream with zstd,
// whose FSE/Huffman stage does the heavy lifting over a stream already
// shaped by the delta pass.
func (c *codec) encodeChunk(timestamps []int64, values []float64) []byte {
	raw := make([]byte, 0, 16*len(timestamps))
	var tmp [binary.MaxVarintLen64]byte

	var prevTS int64
	for i, ts := range timestamps {
		delta := ts
		if i > 0 {
			delta = ts - prevTS
		}
		n := binary.PutVarint(tmp[:], delta)
		raw = append(raw, tmp[:n]...)
		prevTS = ts
	}

	var prevBits int64
	for i, v := range values {
		bits := int64(math.Float64bits(v))
		delta := bits
		if i > 0 {
			delta = bits - prevBits
		}
		n := binary.PutVarint(tmp[:], delta)
		raw = append(raw, tmp[:n]...)
		prevBits = bits
	}

	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

// decodeChunk reverses encodeChunk given the original row count.
func (c *codec) decodeChunk(compressed []byte, n int) (timestamps []int64, values []float64, err error) {
	raw, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("seriesstore: zstd decode: %w", err)
	}

	timestamps = make([]int64, n)
	values = make([]float64, n)
	pos := 0

	var prevTS int64
	for i := 0; i < n; i++ {
		delta, m := binary.Varint(raw[pos:])
		if m <= 0 {
			return nil, nil, fmt.Errorf("seriesstore: corrupt chunk (timestamp %d)", i)
		}
		pos += m
		ts := delta
		if i > 0 {
			ts = prevTS + delta
		}
		timestamps[i] = ts
		prevTS = ts
	}

	var prevBits int64
	for i := 0; i < n; i++ {
		delta, m := binary.Varint(raw[pos:])
		if m <= 0 {
			return nil, nil, fmt.Errorf("seriesstore: corrupt chunk (value %d)", i)
		}
		pos += m
		bits := delta
		if i > 0 {
			bits = prevBits + delta
		}
		values[i] = math.Float64frombits(uint64(bits))
		prevBits = bits
	}

	return timestamps, values, nil
}

