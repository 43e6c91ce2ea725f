package sampler

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestTreeAggregation(t *testing.T) {
	tr := newTree()
	tr.Add([]string{"main", "train", "forward"})
	tr.Add([]string{"main", "train", "forward"})
	tr.Add([]string{"main", "train", "backward"})
	tr.Add([]string{"main", "eval"})

	rows := tr.Flatten()
	byPath := map[string]FrameRow{}
	for _, r := range rows {
		byPath[r.Path] = r
	}

	assert.Equal(t, 4, byPath["main"].Inclusive)
	assert.Equal(t, 0, byPath["main"].Exclusive)
	assert.Equal(t, 3, byPath["main;train"].Inclusive)
	assert.Equal(t, 2, byPath["main;train;forward"].Exclusive)
	assert.Equal(t, 1, byPath["main;train;backward"].Inclusive)
	assert.Equal(t, 1, byPath["main;eval"].Exclusive)
	assert.Equal(t, 4, tr.TotalSamples())
}

func TestFlamegraphRendering(t *testing.T) {
	tr := newTree()
	tr.Add([]string{"main", "work"})
	tr.Add([]string{"main", "work"})
	tr.Add([]string{"main"})

	out := string(RenderFlamegraph(tr))
	assert.Contains(t, out, "main;work 2")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// Only frames with exclusive samples appear in collapsed-stack form.
	for _, line := range lines {
		require.NotEmpty(t, line)
	}
}

func TestSamplerStartStopFreeze(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int64
	s := New(func() []string {
		calls.Add(1)
		return []string{"main", "loop"}
	})
	s.SetInterval(1)

	assert.False(t, s.Running())
	s.Start()
	assert.True(t, s.Running())

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	s.Stop()
	assert.False(t, s.Running())

	// The aggregation is frozen after Stop and still readable.
	frames := s.Frames()
	require.NotEmpty(t, frames)
	frozen := calls.Load()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, frozen, calls.Load(), "stopped sampler must not keep sampling")

	// A restart clears the previous aggregation.
	s.Start()
	s.Stop()
	for _, f := range s.Frames() {
		assert.LessOrEqual(t, f.Inclusive, int(calls.Load()-frozen))
	}
}

func TestSamplerIdempotentStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(func() []string { return []string{"main"} })
	s.Stop() // stopping a never-started sampler is a no-op
	s.Start()
	s.Start() // double start is a no-op
	s.Stop()
	s.Stop()
}
