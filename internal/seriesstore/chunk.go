package seriesstore

// sealedChunk is an immutable, compressed chunk. Once created it is
// never mutated; eviction only ever removes whole sealed chunks.
type sealedChunk struct {
	minTS, maxTS int64
	rows         int
	compressed   []byte
	rawBytes     int // pre-compression size; the byte-cap retention check counts approxBytes instead
}

func (c *sealedChunk) approxBytes() int {
	return len(c.compressed)
}

// headChunk is the single mutable chunk new appends land in.
type headChunk struct {
	timestamps []int64
	values     []float64
}

func (h *headChunk) len() int { return len(h.timestamps) }

func (h *headChunk) append(ts int64, value float64) {
	h.timestamps = append(h.timestamps, ts)
	h.values = append(h.values, value)
}

func (h *headChunk) highWaterMark() (int64, bool) {
	if len(h.timestamps) == 0 {
		return 0, false
	}
	return h.timestamps[len(h.timestamps)-1], true
}
