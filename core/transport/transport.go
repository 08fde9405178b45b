// Package transport keeps every stem of a song in lock-step behind one
// play/pause/seek/stop control and resolves mute/solo/volume into gains.
package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"StemMixer/logger"
	"StemMixer/model"

	"github.com/samber/lo"
)

var (
	// ErrNothingToPlay no stem could be loaded.
	ErrNothingToPlay = errors.New("nothing to play")
	// ErrSuperseded a newer Load or Unload replaced this one.
	ErrSuperseded = errors.New("load superseded by a newer request")
	// ErrUnknownTrack the key is not part of the loaded set.
	ErrUnknownTrack = errors.New("unknown track")
	// ErrNotLoaded the command needs loaded tracks.
	ErrNotLoaded = errors.New("no tracks loaded")
	// ErrNotFinite the value is NaN or infinite.
	ErrNotFinite = errors.New("value must be a finite number")
	// ErrReferenceTrack the reference track cannot be removed on its own.
	ErrReferenceTrack = errors.New("cannot remove the reference track")
)

// Options tunes loading and drift tracking.
type Options struct {
	WaveformResolution int
	MaxConcurrentLoads int
	DriftInterval      time.Duration
}

// WithDefaults fills unset fields with the default values.
func (o Options) WithDefaults() Options {
	if o.WaveformResolution <= 0 {
		o.WaveformResolution = 800
	}
	if o.MaxConcurrentLoads <= 0 {
		o.MaxConcurrentLoads = 4
	}
	if o.DriftInterval <= 0 {
		o.DriftInterval = 50 * time.Millisecond
	}
	return o
}

type track struct {
	key      string
	url      string
	handle   Handle
	status   model.TrackStatus
	err      string
	analysis *model.TrackAnalysis
	muted    bool
	solo     bool
	volume   float64
	pan      float64
	color    string
}

func (t *track) available() bool {
	return t.status == model.TrackStatusAvailable && t.handle != nil
}

// Transport is the shared clock of a multi-stem session. All commands are
// serialized by one mutex and applied to every loaded track before returning.
type Transport struct {
	source Source
	cache  AnalysisCache
	opts   Options

	mu         sync.Mutex
	state      model.TransportState
	tracks     map[string]*track
	order      []string
	reference  string
	playhead   float64
	duration   float64
	volume     float64
	muted      bool
	generation uint64

	subMu  sync.Mutex
	subs   map[int]chan model.TransportSnapshot
	nextID int
}

// New creates an idle transport. cache may be nil.
func New(source Source, cache AnalysisCache, opts Options) *Transport {
	return &Transport{
		source: source,
		cache:  cache,
		opts:   opts.WithDefaults(),
		state:  model.TransportIdle,
		tracks: make(map[string]*track),
		volume: 1,
		subs:   make(map[int]chan model.TransportSnapshot),
	}
}

// State returns the current transport state.
func (t *Transport) State() model.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Play starts every available track from the playhead. A no-op while playing.
func (t *Transport) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == model.TransportPlaying {
		return nil
	}
	if t.state != model.TransportReady {
		return ErrNotLoaded
	}

	live := t.availableLocked()
	for _, tr := range live {
		if err := tr.handle.Seek(t.playhead); err != nil {
			logger.Warn("track seek before play failed",
				logger.String("track", tr.key),
				logger.Float64("position", t.playhead),
				logger.ErrorField(err))
		}
	}
	for _, tr := range live {
		t.startLocked(tr)
	}
	t.state = model.TransportPlaying
	t.publishLocked()
	return nil
}

func (t *Transport) startLocked(tr *track) {
	if err := tr.handle.Play(); err != nil {
		tr.err = err.Error()
		logger.Warn("track failed to start",
			logger.String("track", tr.key),
			logger.String("url", tr.url),
			logger.ErrorField(err))
		return
	}
	tr.err = ""
}

// Pause stops every track and keeps the reference track's position as the playhead.
func (t *Transport) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != model.TransportPlaying {
		return nil
	}
	if ref := t.referenceLocked(); ref != nil {
		t.playhead = ref.handle.Position()
	}
	for _, tr := range t.availableLocked() {
		tr.handle.Pause()
	}
	t.state = model.TransportReady
	t.publishLocked()
	return nil
}

// Stop pauses every track and rewinds everything to zero.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rewindLocked()
	t.publishLocked()
	return nil
}

func (t *Transport) rewindLocked() {
	for _, tr := range t.availableLocked() {
		tr.handle.Pause()
		if err := tr.handle.Seek(0); err != nil {
			logger.Warn("track rewind failed", logger.String("track", tr.key), logger.ErrorField(err))
		}
	}
	t.playhead = 0
	if t.state == model.TransportPlaying {
		t.state = model.TransportReady
	}
}

// Seek moves every track and the playhead to seconds. Negative values clamp
// to 0 and values past the known duration clamp to the duration. Works in
// every state; playback continues from the new position when playing.
func (t *Transport) Seek(seconds float64) error {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return ErrNotFinite
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	if t.duration > 0 && seconds > t.duration {
		seconds = t.duration
	}
	for _, tr := range t.availableLocked() {
		if err := tr.handle.Seek(seconds); err != nil {
			logger.Warn("track seek failed",
				logger.String("track", tr.key),
				logger.Float64("position", seconds),
				logger.ErrorField(err))
		}
	}
	t.playhead = seconds
	t.publishLocked()
	return nil
}

// SetTrackMute mutes or unmutes a track. Muting clears its solo flag.
func (t *Transport) SetTrackMute(key string, muted bool) error {
	return t.updateTrack(key, func(tr *track) {
		tr.muted = muted
		if muted {
			tr.solo = false
		}
	})
}

// SetTrackSolo solos or unsolos a track. Soloing clears its mute flag.
func (t *Transport) SetTrackSolo(key string, solo bool) error {
	return t.updateTrack(key, func(tr *track) {
		tr.solo = solo
		if solo {
			tr.muted = false
		}
	})
}

// SetTrackVolume sets a track's volume, clamped to [0, 1]. NaN counts as 0.
func (t *Transport) SetTrackVolume(key string, volume float64) error {
	return t.updateTrack(key, func(tr *track) {
		tr.volume = clamp01(volume)
	})
}

// SetTrackPan sets a track's stereo position, clamped to [-1, 1]. NaN centers it.
func (t *Transport) SetTrackPan(key string, pan float64) error {
	return t.updateTrack(key, func(tr *track) {
		tr.pan = clampPan(pan)
		if tr.available() {
			tr.handle.SetPan(tr.pan)
		}
	})
}

// SetTrackColor sets the display color of a track.
func (t *Transport) SetTrackColor(key, color string) error {
	return t.updateTrack(key, func(tr *track) {
		tr.color = color
	})
}

// SetMasterVolume sets the master volume, clamped to [0, 1]. NaN counts as 0.
func (t *Transport) SetMasterVolume(volume float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume = clamp01(volume)
	t.applyGainsLocked()
	t.publishLocked()
}

// SetMasterMute silences or restores the whole mix.
func (t *Transport) SetMasterMute(muted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.muted = muted
	t.applyGainsLocked()
	t.publishLocked()
}

func (t *Transport) updateTrack(key string, fn func(tr *track)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.tracks[key]
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrUnknownTrack)
	}
	fn(tr)
	t.applyGainsLocked()
	t.publishLocked()
	return nil
}

func (t *Transport) mixStatesLocked() []MixState {
	return lo.Map(t.order, func(key string, _ int) MixState {
		tr := t.tracks[key]
		return MixState{Key: key, Muted: tr.muted, Solo: tr.solo, Volume: tr.volume}
	})
}

func (t *Transport) applyGainsLocked() {
	gains := ResolveGains(t.mixStatesLocked(), t.volume, t.muted)
	for _, tr := range t.availableLocked() {
		tr.handle.SetGain(gains[tr.key])
	}
}

// availableLocked returns the available tracks in display order.
func (t *Transport) availableLocked() []*track {
	out := make([]*track, 0, len(t.order))
	for _, key := range t.order {
		if tr := t.tracks[key]; tr.available() {
			out = append(out, tr)
		}
	}
	return out
}

func (t *Transport) referenceLocked() *track {
	if t.reference == "" {
		return nil
	}
	tr, ok := t.tracks[t.reference]
	if !ok || !tr.available() {
		return nil
	}
	return tr
}

// chooseReference picks the first available song stem in display order,
// falling back to the click track when it is the only one left.
func (t *Transport) chooseReferenceLocked() string {
	live := t.availableLocked()
	if ref, ok := lo.Find(live, func(tr *track) bool { return !model.IsAuxiliaryStem(tr.key) }); ok {
		return ref.key
	}
	if len(live) > 0 {
		return live[0].key
	}
	return ""
}

// onEnded returns the end-of-media callback for a track of one load generation.
// It runs off the audio goroutine so it may take the transport lock.
func (t *Transport) onEnded(generation uint64, key string) func() {
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if generation != t.generation || key != t.reference || t.state != model.TransportPlaying {
			return
		}
		logger.Debug("reference track reached the end, stopping",
			logger.String("track", key),
			logger.Uint64("generation", generation))
		t.rewindLocked()
		t.publishLocked()
	}
}

// Envelope returns the waveform envelope of a loaded track.
func (t *Transport) Envelope(key string) ([]float32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.tracks[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrUnknownTrack)
	}
	if tr.analysis == nil {
		return nil, fmt.Errorf("%s: %w", key, ErrNotLoaded)
	}
	return tr.analysis.Envelope, nil
}

// Onsets returns the detected onset of every available track that has one.
func (t *Transport) Onsets() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int)
	for _, tr := range t.availableLocked() {
		if tr.analysis != nil && tr.analysis.OnsetDetected {
			out[tr.key] = tr.analysis.OnsetMs
		}
	}
	return out
}

// Unload releases every track and returns to Idle. Any in-flight Load is superseded.
func (t *Transport) Unload() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	t.releaseLocked()
	t.publishLocked()
}

func (t *Transport) releaseLocked() {
	for _, tr := range t.tracks {
		closeTrack(tr)
	}
	t.tracks = make(map[string]*track)
	t.order = nil
	t.reference = ""
	t.playhead = 0
	t.duration = 0
	t.state = model.TransportIdle
}

func closeTrack(tr *track) {
	if tr.handle == nil {
		return
	}
	tr.handle.Pause()
	if err := tr.handle.Close(); err != nil {
		logger.Warn("failed to release track", logger.String("track", tr.key), logger.ErrorField(err))
	}
}

// Run refreshes the playhead from the reference track every drift interval
// and publishes a snapshot while playing. It never re-seeks tracks.
func (t *Transport) Run(ctx context.Context) {
	ticker := time.NewTicker(t.opts.DriftInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Transport) tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != model.TransportPlaying {
		return
	}
	if ref := t.referenceLocked(); ref != nil {
		t.playhead = ref.handle.Position()
	}
	t.publishLocked()
}
