package player

import (
	"time"

	"StemMixer/core/analysis"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

// Voice is one stem on the engine bus. It implements transport.Handle.
// Every field below engine is guarded by the engine lock.
type Voice struct {
	engine *Engine
	rate   beep.SampleRate
	mono   func() analysis.Buffer

	src     beep.StreamSeeker
	ctrl    *beep.Ctrl
	gain    *effects.Gain
	pan     *effects.Pan
	onEnded func()
	ended   bool
	closed  bool
}

// Play resumes the voice from its current position.
func (v *Voice) Play() error {
	v.engine.lock.Lock()
	defer v.engine.lock.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.ended = false
	v.ctrl.Paused = false
	return nil
}

// Pause holds the voice at its current position.
func (v *Voice) Pause() {
	v.engine.lock.Lock()
	defer v.engine.lock.Unlock()
	v.ctrl.Paused = true
}

// Seek moves the voice to seconds, clamped to the source.
func (v *Voice) Seek(seconds float64) error {
	v.engine.lock.Lock()
	defer v.engine.lock.Unlock()
	if v.closed {
		return ErrClosed
	}
	n := v.rate.N(time.Duration(seconds * float64(time.Second)))
	n = max(0, min(n, v.src.Len()))
	if err := v.src.Seek(n); err != nil {
		return err
	}
	v.ended = false
	return nil
}

// Position returns the voice position in seconds.
func (v *Voice) Position() float64 {
	v.engine.lock.Lock()
	defer v.engine.lock.Unlock()
	return v.rate.D(v.src.Position()).Seconds()
}

// Duration returns the source length in seconds.
func (v *Voice) Duration() float64 {
	return v.rate.D(v.src.Len()).Seconds()
}

// SetGain sets the linear gain; effects.Gain multiplies by 1+Gain.
func (v *Voice) SetGain(gain float64) {
	v.engine.lock.Lock()
	defer v.engine.lock.Unlock()
	v.gain.Gain = gain - 1
}

// SetPan sets the stereo position in [-1, 1].
func (v *Voice) SetPan(pan float64) {
	v.engine.lock.Lock()
	defer v.engine.lock.Unlock()
	v.pan.Pan = pan
}

// OnEnded registers the end-of-media callback.
func (v *Voice) OnEnded(fn func()) {
	v.engine.lock.Lock()
	defer v.engine.lock.Unlock()
	v.onEnded = fn
}

// Samples returns the decoded first channel for analysis.
func (v *Voice) Samples() analysis.Buffer {
	return v.mono()
}

// Close removes the voice from the bus.
func (v *Voice) Close() error {
	v.engine.lock.Lock()
	defer v.engine.lock.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.ctrl.Paused = true
	v.engine.remove(v)
	return nil
}
