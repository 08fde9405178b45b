package player

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"StemMixer/core/analysis"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/generators"
)

// MetronomeScheme prefixes URLs that Open synthesizes instead of fetching.
const MetronomeScheme = "metronome:"

const (
	accentFreq  = 1000.0
	beatFreq    = 800.0
	accentLevel = 0.3
	beatLevel   = 0.2
	clickLength = 100 * time.Millisecond
	clickAttack = 10 * time.Millisecond
	clickFloor  = 0.001
)

// ErrInvalidMetronome is returned for a metronome spec that cannot be played.
var ErrInvalidMetronome = errors.New("invalid metronome")

// MetronomeSpec describes a synthesized metronome track. The first beat of
// every bar is accented.
type MetronomeSpec struct {
	BPM         float64
	BeatsPerBar int
	FirstBeatMs int
	Duration    float64 // 秒
}

// BeatsPerBar reads the numerator of a time signature like "3/4", 4 when unknown.
func BeatsPerBar(timeSignature string) int {
	num, _, _ := strings.Cut(timeSignature, "/")
	n, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil || n <= 0 {
		return 4
	}
	return n
}

// URL encodes the spec as a metronome URL. The URL identifies the track in
// the analysis cache, so equal specs share one entry.
func (m MetronomeSpec) URL() string {
	q := url.Values{}
	q.Set("bpm", strconv.FormatFloat(m.BPM, 'f', -1, 64))
	q.Set("beats", strconv.Itoa(m.BeatsPerBar))
	q.Set("first", strconv.Itoa(m.FirstBeatMs))
	q.Set("duration", strconv.FormatFloat(m.Duration, 'f', -1, 64))
	return MetronomeScheme + "?" + q.Encode()
}

func (m MetronomeSpec) validate() error {
	switch {
	case !(m.BPM > 0) || math.IsInf(m.BPM, 0):
		return fmt.Errorf("%w: bpm %v", ErrInvalidMetronome, m.BPM)
	case !(m.Duration > 0) || math.IsInf(m.Duration, 0):
		return fmt.Errorf("%w: duration %v", ErrInvalidMetronome, m.Duration)
	case m.BeatsPerBar <= 0:
		return fmt.Errorf("%w: %d beats per bar", ErrInvalidMetronome, m.BeatsPerBar)
	case m.FirstBeatMs < 0:
		return fmt.Errorf("%w: first beat at %d ms", ErrInvalidMetronome, m.FirstBeatMs)
	}
	return nil
}

// IsMetronomeURL reports whether u is a metronome URL.
func IsMetronomeURL(u string) bool {
	return strings.HasPrefix(u, MetronomeScheme)
}

// ParseMetronomeURL decodes a URL built by MetronomeSpec.URL.
func ParseMetronomeURL(u string) (MetronomeSpec, error) {
	if !IsMetronomeURL(u) {
		return MetronomeSpec{}, fmt.Errorf("%w: %s", ErrInvalidMetronome, u)
	}
	q, err := url.ParseQuery(strings.TrimPrefix(strings.TrimPrefix(u, MetronomeScheme), "?"))
	if err != nil {
		return MetronomeSpec{}, fmt.Errorf("%w: %v", ErrInvalidMetronome, err)
	}

	var spec MetronomeSpec
	var errs []error
	parseFloat := func(key string) float64 {
		v, err := strconv.ParseFloat(q.Get(key), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return v
	}
	parseInt := func(key string) int {
		v, err := strconv.Atoi(q.Get(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return v
	}
	spec.BPM = parseFloat("bpm")
	spec.BeatsPerBar = parseInt("beats")
	spec.FirstBeatMs = parseInt("first")
	spec.Duration = parseFloat("duration")
	if len(errs) > 0 {
		return MetronomeSpec{}, fmt.Errorf("%w: %v", ErrInvalidMetronome, errors.Join(errs...))
	}
	return spec, spec.validate()
}

// NewMetronome registers a synthesized metronome as a paused voice.
func (e *Engine) NewMetronome(spec MetronomeSpec) (*Voice, error) {
	m, err := newMetronome(spec, e.sampleRate)
	if err != nil {
		return nil, err
	}
	proto := m.clone()
	mono := func() analysis.Buffer {
		return monoOf(proto.clone(), int(e.sampleRate))
	}
	return e.addVoice(m, e.sampleRate, mono), nil
}

// renderClick synthesizes one click: a sine burst with a short linear attack
// and an exponential decay.
func renderClick(sr beep.SampleRate, freq, level float64) ([]float64, error) {
	tone, err := generators.SineTone(sr, freq)
	if err != nil {
		return nil, err
	}
	n := sr.N(clickLength)
	attack := max(1, sr.N(clickAttack))
	buf := make([][2]float64, n)
	tone.Stream(buf)

	out := make([]float64, n)
	for i := range buf {
		var g float64
		if i < attack {
			g = level * float64(i) / float64(attack)
		} else {
			frac := float64(i-attack) / float64(max(1, n-attack))
			g = level * math.Pow(clickFloor/level, frac)
		}
		out[i] = buf[i][0] * g
	}
	return out, nil
}

// metronome is a seekable streamer that computes every frame from its
// position, so seeking is free and there is nothing to buffer.
type metronome struct {
	accent      []float64
	beat        []float64
	period      float64 // 每拍的帧数
	first       int
	beatsPerBar int
	length      int
	pos         int
}

var _ beep.StreamSeeker = (*metronome)(nil)

func newMetronome(spec MetronomeSpec, sr beep.SampleRate) (*metronome, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	accent, err := renderClick(sr, accentFreq, accentLevel)
	if err != nil {
		return nil, err
	}
	beat, err := renderClick(sr, beatFreq, beatLevel)
	if err != nil {
		return nil, err
	}
	return &metronome{
		accent:      accent,
		beat:        beat,
		period:      60 * float64(sr) / spec.BPM,
		first:       sr.N(time.Duration(spec.FirstBeatMs) * time.Millisecond),
		beatsPerBar: spec.BeatsPerBar,
		length:      sr.N(time.Duration(spec.Duration * float64(time.Second))),
	}, nil
}

func (m *metronome) clone() *metronome {
	c := *m
	c.pos = 0
	return &c
}

func (m *metronome) frame(p int) float64 {
	if p < m.first {
		return 0
	}
	rel := float64(p - m.first)
	n := int(rel / m.period)
	off := int(rel - float64(n)*m.period)
	click := m.beat
	if n%m.beatsPerBar == 0 {
		click = m.accent
	}
	if off < len(click) {
		return click[off]
	}
	return 0
}

func (m *metronome) Stream(samples [][2]float64) (int, bool) {
	if m.pos >= m.length {
		return 0, false
	}
	n := min(len(samples), m.length-m.pos)
	for i := 0; i < n; i++ {
		v := m.frame(m.pos + i)
		samples[i] = [2]float64{v, v}
	}
	m.pos += n
	return n, true
}

func (m *metronome) Err() error { return nil }

func (m *metronome) Len() int { return m.length }

func (m *metronome) Position() int { return m.pos }

func (m *metronome) Seek(p int) error {
	if p < 0 || p > m.length {
		return fmt.Errorf("metronome: seek position %d out of range [0, %d]", p, m.length)
	}
	m.pos = p
	return nil
}

func monoOf(s beep.Streamer, sampleRate int) analysis.Buffer {
	var out []float32
	chunk := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(chunk)
		for i := 0; i < n; i++ {
			out = append(out, float32(chunk[i][0]))
		}
		if !ok || n < len(chunk) {
			break
		}
	}
	return analysis.Buffer{Samples: out, SampleRate: sampleRate}
}
