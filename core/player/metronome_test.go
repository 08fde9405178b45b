package player

import (
	"context"
	"errors"
	"math"
	"testing"
)

const metronomeRate = 8000

func peak(samples [][2]float64) float64 {
	var p float64
	for _, s := range samples {
		p = math.Max(p, math.Abs(s[0]))
	}
	return p
}

func TestBeatsPerBar(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"4/4", 4},
		{"3/4", 3},
		{" 6 /8", 6},
		{"", 4},
		{"x/4", 4},
		{"0/4", 4},
	}
	for _, tt := range tests {
		if got := BeatsPerBar(tt.in); got != tt.want {
			t.Errorf("BeatsPerBar(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMetronomeURL(t *testing.T) {
	spec := MetronomeSpec{BPM: 92.5, BeatsPerBar: 3, FirstBeatMs: 350, Duration: 61.25}
	u := spec.URL()
	if !IsMetronomeURL(u) {
		t.Fatalf("%s is not a metronome URL", u)
	}
	got, err := ParseMetronomeURL(u)
	if err != nil {
		t.Fatal(err)
	}
	if got != spec {
		t.Errorf("round trip = %+v, want %+v", got, spec)
	}

	bad := []string{
		"https://cdn/click.wav",
		"metronome:?bpm=0&beats=4&first=0&duration=10",
		"metronome:?bpm=120&beats=4&first=0",
		"metronome:?bpm=NaN&beats=4&first=0&duration=10",
		"metronome:?bpm=120&beats=0&first=0&duration=10",
	}
	for _, b := range bad {
		if _, err := ParseMetronomeURL(b); !errors.Is(err, ErrInvalidMetronome) {
			t.Errorf("ParseMetronomeURL(%q) = %v, want ErrInvalidMetronome", b, err)
		}
	}
}

func TestMetronomeClicksOnBeats(t *testing.T) {
	// 120 bpm: 一拍 0.5s = 4000 帧，第一拍在 250ms = 2000 帧
	m, err := newMetronome(MetronomeSpec{BPM: 120, BeatsPerBar: 2, FirstBeatMs: 250, Duration: 2}, metronomeRate)
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() != 16000 {
		t.Fatalf("len = %d, want 16000", m.Len())
	}
	out := make([][2]float64, 16000)
	if n, _ := m.Stream(out); n != 16000 {
		t.Fatalf("streamed %d frames", n)
	}

	if p := peak(out[:2000]); p != 0 {
		t.Errorf("lead-in peak = %v, want silence", p)
	}
	click := metronomeRate / 10
	accent := peak(out[2000 : 2000+click])
	beat := peak(out[6000 : 6000+click])
	if accent < 0.25 || accent > 0.3 {
		t.Errorf("accent peak = %v, want ~0.3", accent)
	}
	if beat < 0.15 || beat > 0.2 {
		t.Errorf("beat peak = %v, want ~0.2", beat)
	}
	if p := peak(out[2000+click : 6000]); p != 0 {
		t.Errorf("gap between clicks peak = %v", p)
	}
	// 两拍一小节，第三拍重新重音
	if p := peak(out[10000 : 10000+click]); p < 0.25 {
		t.Errorf("bar 2 accent peak = %v", p)
	}

	if err := m.Seek(6000); err != nil {
		t.Fatal(err)
	}
	again := make([][2]float64, click)
	m.Stream(again)
	if peak(again) != beat {
		t.Errorf("click after seek = %v, want %v", peak(again), beat)
	}
	if err := m.Seek(16001); err == nil {
		t.Error("seek past the end succeeded")
	}
}

func TestMetronomeVoiceOnTransport(t *testing.T) {
	e := NewOffline(metronomeRate, nil)
	spec := MetronomeSpec{BPM: 120, BeatsPerBar: 4, FirstBeatMs: 0, Duration: 1}
	h, err := e.Open(context.Background(), spec.URL())
	if err != nil {
		t.Fatal(err)
	}
	if !near(h.Duration(), 1) {
		t.Errorf("duration = %v", h.Duration())
	}
	if a := h.Samples(); len(a.Samples) != metronomeRate || a.SampleRate != metronomeRate {
		t.Errorf("samples = %d at %d Hz", len(a.Samples), a.SampleRate)
	}

	h.SetGain(1)
	if err := h.Seek(0.5); err != nil {
		t.Fatal(err)
	}
	if err := h.Play(); err != nil {
		t.Fatal(err)
	}
	out := make([][2]float64, 400)
	e.Mixdown().Stream(out)
	if p := peak(out); p < 0.15 || p > 0.2 {
		t.Errorf("second beat through the bus peak = %v", p)
	}

	h.SetGain(0)
	e.Mixdown().Stream(out)
	if p := peak(out); p != 0 {
		t.Errorf("muted metronome peak = %v", p)
	}
}
