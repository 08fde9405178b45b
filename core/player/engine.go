// Package player is the beep-backed audio engine: it mixes every loaded stem
// into one bus that plays on the speaker, or renders offline.
package player

import (
	"context"
	"errors"
	"sync"

	"StemMixer/core/analysis"
	"StemMixer/core/decoder"
	"StemMixer/core/transport"
	"StemMixer/logger"
	"StemMixer/storage"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

// ErrClosed is returned when a closed voice is used.
var ErrClosed = errors.New("voice is closed")

// Engine owns the mixing bus. Voices are added by Open and removed on Close.
type Engine struct {
	sampleRate beep.SampleRate
	lock       sync.Locker
	fetcher    storage.Fetcher

	// guarded by lock
	voices  []*Voice
	scratch [][2]float64

	closeFn func()
}

func newEngine(sampleRate beep.SampleRate, lock sync.Locker, fetcher storage.Fetcher) *Engine {
	return &Engine{
		sampleRate: sampleRate,
		lock:       lock,
		fetcher:    fetcher,
	}
}

// NewOffline creates an engine that only advances when Mixdown is streamed.
func NewOffline(sampleRate int, fetcher storage.Fetcher) *Engine {
	return newEngine(beep.SampleRate(sampleRate), &sync.Mutex{}, fetcher)
}

// SampleRate returns the output sample rate.
func (e *Engine) SampleRate() beep.SampleRate {
	return e.sampleRate
}

// Format returns the output format, 16-bit stereo.
func (e *Engine) Format() beep.Format {
	return beep.Format{SampleRate: e.sampleRate, NumChannels: 2, Precision: 2}
}

// Open fetches, decodes and registers url as a paused voice. Metronome URLs
// are synthesized instead of fetched.
func (e *Engine) Open(ctx context.Context, url string) (transport.Handle, error) {
	if IsMetronomeURL(url) {
		spec, err := ParseMetronomeURL(url)
		if err != nil {
			return nil, err
		}
		return e.NewMetronome(spec)
	}

	data, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	asset, err := decoder.Decode(url, data)
	if err != nil {
		return nil, err
	}
	logger.Debug("stem decoded",
		logger.String("url", url),
		logger.Int("frames", asset.Len()),
		logger.Int("sampleRate", int(asset.Format.SampleRate)))
	return e.NewVoice(asset), nil
}

// NewVoice registers a decoded asset as a paused voice at position 0.
func (e *Engine) NewVoice(asset *decoder.Asset) *Voice {
	return e.addVoice(asset.Streamer(), asset.Format.SampleRate, asset.Mono)
}

func (e *Engine) addVoice(src beep.StreamSeeker, rate beep.SampleRate, mono func() analysis.Buffer) *Voice {
	var s beep.Streamer = src
	if rate != e.sampleRate {
		s = beep.Resample(4, rate, e.sampleRate, src)
	}
	ctrl := &beep.Ctrl{Streamer: s, Paused: true}
	gain := &effects.Gain{Streamer: ctrl, Gain: 0}
	pan := &effects.Pan{Streamer: gain, Pan: 0}

	v := &Voice{
		engine: e,
		rate:   rate,
		mono:   mono,
		src:    src,
		ctrl:   ctrl,
		gain:   gain,
		pan:    pan,
	}

	e.lock.Lock()
	e.voices = append(e.voices, v)
	e.lock.Unlock()
	return v
}

// Voices returns the number of registered voices.
func (e *Engine) Voices() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.voices)
}

func (e *Engine) remove(v *Voice) {
	for i, other := range e.voices {
		if other == v {
			e.voices = append(e.voices[:i], e.voices[i+1:]...)
			return
		}
	}
}

// mix sums every playing voice into samples. Callers hold e.lock.
// A voice that runs out of samples is paused and its end callback is fired
// on a new goroutine, so the callback may call back into the engine.
func (e *Engine) mix(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i] = [2]float64{}
	}
	if cap(e.scratch) < len(samples) {
		e.scratch = make([][2]float64, len(samples))
	}
	tmp := e.scratch[:len(samples)]

	for _, v := range e.voices {
		if v.ended || v.ctrl.Paused {
			continue
		}
		n, ok := v.pan.Stream(tmp)
		for i := 0; i < n; i++ {
			samples[i][0] += tmp[i][0]
			samples[i][1] += tmp[i][1]
		}
		if !ok || n < len(tmp) {
			v.ended = true
			v.ctrl.Paused = true
			if cb := v.onEnded; cb != nil {
				go cb()
			}
		}
	}
	return len(samples), true
}

// Mixdown returns the bus as a streamer for offline rendering. Each call to
// Stream takes the engine lock.
func (e *Engine) Mixdown() beep.Streamer {
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		e.lock.Lock()
		defer e.lock.Unlock()
		return e.mix(samples)
	})
}

// Close stops audio output and drops every voice.
func (e *Engine) Close() error {
	if e.closeFn != nil {
		e.closeFn()
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	for _, v := range e.voices {
		v.closed = true
	}
	e.voices = nil
	return nil
}

// Source adapts the engine to transport.Source.
func (e *Engine) Source() transport.Source {
	return transport.SourceFunc(e.Open)
}
