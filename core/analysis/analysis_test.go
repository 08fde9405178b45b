package analysis

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

// --- helpers ---

func silence(n int) []float32 {
	return make([]float32, n)
}

// tone returns n samples of a sine at the given amplitude.
func tone(n int, amp float32, sampleRate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amp * float32(math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}
	return out
}

func concat(parts ...[]float32) []float32 {
	var out []float32
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// --- DetectOnset ---

func TestDetectOnsetSilenceReturnsZero(t *testing.T) {
	buf := Buffer{Samples: silence(44100), SampleRate: 44100}
	if got := DetectOnset(buf, TrackOnset); got != 0 {
		t.Errorf("DetectOnset(silence) = %d, want 0", got)
	}
	if _, found := FindOnset(buf, TrackOnset); found {
		t.Error("FindOnset(silence) reported found")
	}
}

func TestDetectOnsetEmptyBuffer(t *testing.T) {
	if got := DetectOnset(Buffer{SampleRate: 44100}, TrackOnset); got != 0 {
		t.Errorf("DetectOnset(empty) = %d, want 0", got)
	}
	if got := DetectOnset(Buffer{Samples: tone(10, 1, 1000)}, TrackOnset); got != 0 {
		t.Errorf("DetectOnset(no sample rate) = %d, want 0", got)
	}
}

func TestDetectOnsetAfterLeadingSilence(t *testing.T) {
	const sr = 1000 // 100ms window = 100 samples
	buf := Buffer{Samples: concat(silence(500), tone(500, 0.5, sr)), SampleRate: sr}

	got, found := FindOnset(buf, TrackOnset)
	if !found {
		t.Fatal("expected an onset")
	}
	if got != 500 {
		t.Errorf("onset = %dms, want 500ms", got)
	}
}

func TestDetectOnsetUsesWindowGranularity(t *testing.T) {
	const sr = 1000
	// attack starts at 530ms; the 500ms window already contains it
	buf := Buffer{Samples: concat(silence(530), tone(470, 0.8, sr)), SampleRate: sr}
	if got := DetectOnset(buf, TrackOnset); got != 500 {
		t.Errorf("onset = %dms, want 500ms", got)
	}
	// the fine 50ms window lands closer
	if got := DetectOnset(buf, FineOnset); got != 500 && got != 550 {
		t.Errorf("fine onset = %dms, want 500 or 550", got)
	}
}

func TestDetectOnsetBelowThreshold(t *testing.T) {
	const sr = 1000
	// RMS of a sine at 0.01 peak is ~0.007, under the 0.01 threshold
	buf := Buffer{Samples: tone(2000, 0.01, sr), SampleRate: sr}
	if got := DetectOnset(buf, TrackOnset); got != 0 {
		t.Errorf("onset = %d, want 0", got)
	}
}

func TestDetectOnsetAttackAtZero(t *testing.T) {
	buf := Buffer{Samples: tone(4410, 0.9, 44100), SampleRate: 44100}
	got, found := FindOnset(buf, TrackOnset)
	if got != 0 || !found {
		t.Errorf("FindOnset = (%d, %v), want (0, true)", got, found)
	}
}

func TestDetectOnsetWithinDuration(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		sr := 8000 + rng.Intn(40000)
		n := rng.Intn(3 * sr)
		samples := make([]float32, n)
		lead := rng.Intn(n + 1)
		for i := lead; i < n; i++ {
			samples[i] = float32(rng.Float64()*2-1) * float32(rng.Float64())
		}
		buf := Buffer{Samples: samples, SampleRate: sr}
		for _, p := range []OnsetParams{TrackOnset, FineOnset} {
			got := DetectOnset(buf, p)
			if got < 0 || got > buf.DurationMs() {
				t.Fatalf("trial %d: onset %d outside [0, %d]", trial, got, buf.DurationMs())
			}
		}
	}
}

func TestDetectOnsetTinyWindow(t *testing.T) {
	// window shorter than one sample is clamped to one sample
	buf := Buffer{Samples: concat(silence(3), []float32{1}), SampleRate: 10}
	p := OnsetParams{Window: time.Millisecond, Threshold: 0.5}
	if got := DetectOnset(buf, p); got != 300 {
		t.Errorf("onset = %d, want 300", got)
	}
}

func TestDetectOnsetDeterministic(t *testing.T) {
	buf := Buffer{Samples: concat(silence(1234), tone(5000, 0.3, 22050)), SampleRate: 22050}
	first := DetectOnset(buf, TrackOnset)
	for i := 0; i < 5; i++ {
		if got := DetectOnset(buf, TrackOnset); got != first {
			t.Fatalf("run %d: %d != %d", i, got, first)
		}
	}
}

// --- Summarize ---

func TestSummarizeLengthAndRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, n := range []int{0, 1, 7, 799, 800, 801, 10000} {
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = float32(rng.Float64()*2 - 1)
		}
		for _, target := range []int{1, 10, 800, 2000} {
			env := Summarize(Buffer{Samples: samples, SampleRate: 44100}, target)
			if len(env) != target {
				t.Fatalf("n=%d target=%d: len = %d", n, target, len(env))
			}
			for i, v := range env {
				if v < 0 || v > 1 || math.IsNaN(float64(v)) {
					t.Fatalf("n=%d target=%d: env[%d] = %v out of [0,1]", n, target, i, v)
				}
			}
		}
	}
}

func TestSummarizeNonPositiveTarget(t *testing.T) {
	if env := Summarize(Buffer{Samples: tone(100, 1, 1000)}, 0); len(env) != 0 {
		t.Errorf("len = %d, want 0", len(env))
	}
	if env := Summarize(Buffer{Samples: tone(100, 1, 1000)}, -3); len(env) != 0 {
		t.Errorf("len = %d, want 0", len(env))
	}
}

func TestSummarizeSilenceIsAllZero(t *testing.T) {
	env := Summarize(Buffer{Samples: silence(5000), SampleRate: 1000}, 50)
	for i, v := range env {
		if v != 0 {
			t.Fatalf("env[%d] = %v, want 0", i, v)
		}
	}
}

func TestSummarizePeakNormalizedToOne(t *testing.T) {
	samples := concat(tone(1000, 0.1, 1000), tone(1000, 0.9, 1000))
	env := Summarize(Buffer{Samples: samples, SampleRate: 1000}, 20)

	var peak float32
	for _, v := range env {
		peak = max(peak, v)
	}
	if math.Abs(float64(peak-1)) > 1e-6 {
		t.Errorf("peak = %v, want 1", peak)
	}
	// quiet half is visible but smaller than the loud half
	if !(env[2] > 0 && env[2] < env[15]) {
		t.Errorf("quiet block %v should be in (0, %v)", env[2], env[15])
	}
}

func TestSummarizeBlockFormula(t *testing.T) {
	// two blocks: a constant 0.5 block and a block alternating +-0.25
	samples := []float32{0.5, 0.5, 0.5, 0.5, 0.25, -0.25, 0.25, -0.25}
	env := Summarize(Buffer{Samples: samples, SampleRate: 8}, 2)

	// block0: rms 0.5 -> 0.9, p2p 0 -> 0; amp 0.9
	// block1: rms 0.25 -> 0.45, p2p 0.5 -> 0.3; amp 0.45
	want1 := math.Pow(0.45/0.9, 0.7)
	if math.Abs(float64(env[0])-1) > 1e-6 {
		t.Errorf("env[0] = %v, want 1", env[0])
	}
	if math.Abs(float64(env[1])-want1) > 1e-5 {
		t.Errorf("env[1] = %v, want %v", env[1], want1)
	}
}

func TestSummarizeMoreBlocksThanSamples(t *testing.T) {
	env := Summarize(Buffer{Samples: []float32{1, -1, 1}, SampleRate: 3}, 10)
	if len(env) != 10 {
		t.Fatalf("len = %d", len(env))
	}
	var nonZero int
	for _, v := range env {
		if v > 0 {
			nonZero++
		}
	}
	if nonZero != 3 {
		t.Errorf("non-zero blocks = %d, want 3", nonZero)
	}
}

func TestSummarizeIdempotent(t *testing.T) {
	buf := Buffer{Samples: concat(silence(300), tone(3000, 0.4, 8000)), SampleRate: 8000}
	a := Summarize(buf, 128)
	b := Summarize(buf, 128)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("env[%d] differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestBufferDuration(t *testing.T) {
	buf := Buffer{Samples: silence(22050), SampleRate: 44100}
	if buf.DurationMs() != 500 {
		t.Errorf("DurationMs = %d, want 500", buf.DurationMs())
	}
	if buf.Duration() != 0.5 {
		t.Errorf("Duration = %v, want 0.5", buf.Duration())
	}
	if (Buffer{}).DurationMs() != 0 {
		t.Error("zero buffer should have zero duration")
	}
}
