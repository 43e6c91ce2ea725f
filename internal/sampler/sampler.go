package sampler

import (
	"sync"
	"time"
)

// StackCapture returns the current sample's frames, outermost-first,
// already reduced to the string form the prefix tree aggregates by.
// The sampler is decoupled from any particular interpreter; the agent
// wires this to script.Bridge.Backtrace at construction time.
type StackCapture func() []string

const defaultIntervalMS = 100

// Sampler is the ticker-driven stack-sampling profiler: a background
// worker (stopCh/doneCh/WaitGroup) on a plain time.Ticker, since
// sampling intervals are sub-second.
type Sampler struct {
	capture StackCapture

	mu           sync.Mutex
	running      bool
	intervalMS   int
	nativeUnwind bool
	current      *tree // accumulating while running
	frozen       *tree // last completed aggregation, retained after Stop

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a disabled Sampler; it is started via the
// "script.sampler.enabled" option.
func New(capture StackCapture) *Sampler {
	return &Sampler{
		capture:    capture,
		intervalMS: defaultIntervalMS,
	}
}

// Start begins sampling at the configured interval. Starting an
// already-running sampler is a no-op; starting a stopped one clears
// the previous (frozen) aggregation.
func (s *Sampler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.current = newTree()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	interval := time.Duration(s.intervalMS) * time.Millisecond
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(interval)
}

func (s *Sampler) run(interval time.Duration) {
	defer s.wg.Done()
	defer close(s.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Sampler) sampleOnce() {
	frames := s.capture()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Add(frames)
	}
}

// Stop halts sampling and freezes the current aggregation for read
// access until the next Start.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()

	s.mu.Lock()
	s.frozen = s.current
	s.current = nil
	s.mu.Unlock()
}

// Running reports whether the sampler is currently active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetInterval updates the sampling period; it takes effect on the next
// Start.
func (s *Sampler) SetInterval(ms int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervalMS = ms
}

// IntervalMS returns the configured sampling period.
func (s *Sampler) IntervalMS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervalMS
}

// SetNativeUnwind toggles whether native (non-interpreted) frames are
// included in captured stacks. The capture callback is expected to
// consult this via NativeUnwind when building its frame list.
func (s *Sampler) SetNativeUnwind(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nativeUnwind = v
}

func (s *Sampler) NativeUnwind() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nativeUnwind
}

// snapshot returns whichever tree currently holds data: the live one
// while running, the frozen one otherwise.
func (s *Sampler) snapshot() *tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current
	}
	return s.frozen
}

// Frames returns the flattened frame table for the current or last
// completed aggregation.
func (s *Sampler) Frames() []FrameRow {
	t := s.snapshot()
	if t == nil {
		return nil
	}
	return t.Flatten()
}

// Flamegraph renders the current or last completed aggregation in
// collapsed-stack form.
func (s *Sampler) Flamegraph() []byte {
	t := s.snapshot()
	if t == nil {
		return nil
	}
	return RenderFlamegraph(t)
}
