package transport

import (
	"context"
	"errors"
	"sync"

	"StemMixer/core/analysis"
	"StemMixer/model"
)

type fakeHandle struct {
	mu          sync.Mutex
	url         string
	playing     bool
	pos         float64
	dur         float64
	gain        float64
	pan         float64
	ended       func()
	closed      bool
	playErr     error
	seeks       []float64
	samples     analysis.Buffer
	sampleReads int
}

func (h *fakeHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.playErr != nil {
		return h.playErr
	}
	h.playing = true
	return nil
}

func (h *fakeHandle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
}

func (h *fakeHandle) Seek(seconds float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = seconds
	h.seeks = append(h.seeks, seconds)
	return nil
}

func (h *fakeHandle) Position() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// setPosition simulates playback advancing.
func (h *fakeHandle) setPosition(p float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = p
}

func (h *fakeHandle) Duration() float64 { return h.dur }

func (h *fakeHandle) SetGain(g float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gain = g
}

func (h *fakeHandle) SetPan(p float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pan = p
}

func (h *fakeHandle) OnEnded(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended = fn
}

// finish fires the end-of-media callback like the audio goroutine would.
func (h *fakeHandle) finish() {
	h.mu.Lock()
	fn := h.ended
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (h *fakeHandle) Samples() analysis.Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sampleReads++
	return h.samples
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) state() (playing bool, pos, gain float64, closed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing, h.pos, h.gain, h.closed
}

// fakeSource opens fakeHandles. URLs listed in fail return an error, URLs in
// block wait until the channel is closed.
type fakeSource struct {
	mu      sync.Mutex
	dur     map[string]float64
	fail    map[string]error
	block   map[string]chan struct{}
	started chan string
	opened  map[string][]*fakeHandle
	samples analysis.Buffer
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		dur:    make(map[string]float64),
		fail:   make(map[string]error),
		block:  make(map[string]chan struct{}),
		opened: make(map[string][]*fakeHandle),
		// 20ms of silence then a loud tone at 100 Hz sample rate
		samples: analysis.Buffer{
			Samples:    append(make([]float32, 20), 0.5, -0.5, 0.5, -0.5, 0.5, -0.5, 0.5, -0.5, 0.5, -0.5),
			SampleRate: 100,
		},
	}
}

func (s *fakeSource) Open(ctx context.Context, url string) (Handle, error) {
	s.mu.Lock()
	block := s.block[url]
	started := s.started
	s.mu.Unlock()

	if started != nil {
		started <- url
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[url]; err != nil {
		return nil, err
	}
	dur := s.dur[url]
	if dur == 0 {
		dur = 180
	}
	h := &fakeHandle{url: url, dur: dur, gain: 1, samples: s.samples}
	s.opened[url] = append(s.opened[url], h)
	return h, nil
}

func (s *fakeSource) handle(url string) *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := s.opened[url]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]model.TrackAnalysis
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]model.TrackAnalysis)}
}

func (c *fakeCache) Get(url string) (model.TrackAnalysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.entries[url]
	return a, ok
}

func (c *fakeCache) Put(ctx context.Context, a model.TrackAnalysis) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.entries[a.URL] = a
	return nil
}

var errNotFound = errors.New("404 not found")

func analysisSilence() analysis.Buffer {
	return analysis.Buffer{Samples: make([]float32, 100), SampleRate: 100}
}
