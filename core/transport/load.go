package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"StemMixer/core/analysis"
	"StemMixer/logger"
	"StemMixer/model"

	"github.com/samber/lo"
)

type loadResult struct {
	key      string
	url      string
	handle   Handle
	analysis *model.TrackAnalysis
	err      error
}

// Load replaces the current track set with stems (key -> URL, empty URLs are
// ignored) and blocks until every stem has either loaded or failed. Failed
// stems stay in the set as unavailable. On success every track is paused at
// position 0 and the transport is Ready.
//
// A newer Load or Unload supersedes this one: its handles are released and
// ErrSuperseded is returned. When no stem loads the transport returns to Idle
// with ErrNothingToPlay.
func (t *Transport) Load(ctx context.Context, stems model.StemMap) error {
	keys := stems.Ordered()

	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.releaseLocked()
	for _, key := range keys {
		t.tracks[key] = &track{
			key:    key,
			url:    stems[key],
			status: model.TrackStatusLoading,
			volume: 1,
		}
	}
	t.order = keys
	if len(keys) > 0 {
		t.state = model.TransportLoading
	}
	t.publishLocked()
	t.mu.Unlock()

	if len(keys) == 0 {
		return ErrNothingToPlay
	}

	logger.Info("loading stems",
		logger.Strings("tracks", keys),
		logger.Uint64("generation", gen))

	results := t.fetchAll(ctx, keys, stems)

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation {
		discard(results)
		logger.Info("discarding superseded load", logger.Uint64("generation", gen))
		return ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		t.releaseLocked()
		discard(results)
		t.publishLocked()
		return fmt.Errorf("%w: %v", ErrSuperseded, err)
	}

	for _, r := range results {
		tr := t.tracks[r.key]
		if r.err != nil {
			tr.status = model.TrackStatusUnavailable
			tr.err = r.err.Error()
			logger.Warn("track unavailable",
				logger.String("track", r.key),
				logger.String("url", r.url),
				logger.ErrorField(r.err))
			continue
		}
		r.handle.Pause()
		if err := r.handle.Seek(0); err != nil {
			logger.Warn("failed to position track at start", logger.String("track", r.key), logger.ErrorField(err))
		}
		r.handle.SetPan(tr.pan)
		r.handle.OnEnded(t.onEnded(gen, r.key))
		tr.handle = r.handle
		tr.analysis = r.analysis
		tr.status = model.TrackStatusAvailable
	}

	t.reference = t.chooseReferenceLocked()
	t.playhead = 0
	var err error
	if ref := t.referenceLocked(); ref != nil {
		t.duration = ref.handle.Duration()
		t.state = model.TransportReady
		t.applyGainsLocked()
		logger.Info("stems loaded",
			logger.String("reference", ref.key),
			logger.Float64("duration", t.duration),
			logger.Int("available", len(t.availableLocked())),
			logger.Int("requested", len(keys)))
	} else {
		t.duration = 0
		t.state = model.TransportIdle
		err = ErrNothingToPlay
		logger.Warn("no stem could be loaded", logger.Uint64("generation", gen))
	}
	t.publishLocked()
	return err
}

// AddTrack loads one more track into the current set without touching the
// others. The track starts at the transport position and plays along when the
// transport is playing. An existing track with the same key is replaced and
// keeps its mix settings.
func (t *Transport) AddTrack(ctx context.Context, key, url string) error {
	t.mu.Lock()
	if t.state != model.TransportReady && t.state != model.TransportPlaying {
		t.mu.Unlock()
		return ErrNotLoaded
	}
	gen := t.generation
	t.mu.Unlock()

	h, a, err := t.loadOne(ctx, url)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation {
		discard([]loadResult{{key: key, handle: h}})
		return ErrSuperseded
	}

	tr := &track{key: key, url: url, volume: 1}
	if old, ok := t.tracks[key]; ok {
		if key == t.reference {
			discard([]loadResult{{key: key, handle: h}})
			return fmt.Errorf("%s: %w", key, ErrReferenceTrack)
		}
		closeTrack(old)
		tr.muted, tr.solo, tr.volume, tr.pan, tr.color = old.muted, old.solo, old.volume, old.pan, old.color
	} else {
		t.order = append(t.order, key)
		model.SortStemKeys(t.order)
	}
	tr.handle, tr.analysis, tr.status = h, a, model.TrackStatusAvailable
	t.tracks[key] = tr

	position := t.playhead
	if ref := t.referenceLocked(); ref != nil && t.state == model.TransportPlaying {
		position = ref.handle.Position()
	}
	h.Pause()
	if err := h.Seek(position); err != nil {
		logger.Warn("failed to position added track", logger.String("track", key), logger.ErrorField(err))
	}
	h.SetPan(tr.pan)
	h.OnEnded(t.onEnded(gen, key))
	t.applyGainsLocked()
	if t.state == model.TransportPlaying {
		t.startLocked(tr)
	}

	logger.Info("track added",
		logger.String("track", key),
		logger.String("url", url),
		logger.Float64("position", position))
	t.publishLocked()
	return nil
}

// RemoveTrack releases one track. The reference track cannot be removed.
func (t *Transport) RemoveTrack(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.tracks[key]
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrUnknownTrack)
	}
	if key == t.reference {
		return fmt.Errorf("%s: %w", key, ErrReferenceTrack)
	}
	closeTrack(tr)
	delete(t.tracks, key)
	t.order = lo.Without(t.order, key)
	t.applyGainsLocked()
	t.publishLocked()
	return nil
}

// fetchAll opens every stem concurrently, bounded by MaxConcurrentLoads, and
// returns once every attempt has settled. Results keep the order of keys.
func (t *Transport) fetchAll(ctx context.Context, keys []string, stems model.StemMap) []loadResult {
	results := make([]loadResult, len(keys))
	sem := make(chan struct{}, t.opts.MaxConcurrentLoads)
	var wg sync.WaitGroup

	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			results[i] = loadResult{key: key, url: stems[key]}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i].err = ctx.Err()
				return
			}
			defer func() { <-sem }()
			results[i].handle, results[i].analysis, results[i].err = t.loadOne(ctx, stems[key])
		}(i, key)
	}
	wg.Wait()
	return results
}

func (t *Transport) loadOne(ctx context.Context, url string) (Handle, *model.TrackAnalysis, error) {
	h, err := t.source.Open(ctx, url)
	if err != nil {
		return nil, nil, err
	}

	if t.cache != nil {
		if cached, ok := t.cache.Get(url); ok {
			return h, &cached, nil
		}
	}

	a := Analyze(url, h.Samples(), t.opts.WaveformResolution)
	if t.cache != nil {
		if err := t.cache.Put(ctx, a); err != nil {
			logger.Warn("failed to persist track analysis", logger.String("url", url), logger.ErrorField(err))
		}
	}
	return h, &a, nil
}

// Analyze computes the envelope and onset of a decoded stem.
func Analyze(url string, buf analysis.Buffer, resolution int) model.TrackAnalysis {
	onset, found := analysis.FindOnset(buf, analysis.TrackOnset)
	return model.TrackAnalysis{
		URL:           url,
		Envelope:      analysis.Summarize(buf, resolution),
		OnsetMs:       onset,
		OnsetDetected: found,
		SampleRate:    buf.SampleRate,
		DurationMs:    buf.DurationMs(),
		ComputedAt:    time.Now(),
	}
}

func discard(results []loadResult) {
	for _, r := range results {
		if r.handle == nil {
			continue
		}
		if err := r.handle.Close(); err != nil {
			logger.Warn("failed to release discarded track", logger.String("track", r.key), logger.ErrorField(err))
		}
	}
}
