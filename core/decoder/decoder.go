// Package decoder turns fetched audio bytes into an in-memory beep buffer plus
// the mono channel used by the analysis functions.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"StemMixer/core/analysis"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// Format identifies a container/codec we can decode.
type Format string

const (
	FormatUnknown Format = ""
	FormatMP3     Format = "mp3"
	FormatWAV     Format = "wav"
	FormatFLAC    Format = "flac"
	FormatVorbis  Format = "ogg"
)

// ErrUnsupportedFormat is returned when neither the name nor the content identify a codec.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Asset is a fully decoded audio file.
type Asset struct {
	Buffer *beep.Buffer
	Format beep.Format
}

// Len returns the number of frames in the asset.
func (a *Asset) Len() int {
	return a.Buffer.Len()
}

// Duration returns the asset length in seconds.
func (a *Asset) Duration() float64 {
	return a.Format.SampleRate.D(a.Buffer.Len()).Seconds()
}

// Streamer returns a new independent seekable reader over the whole asset.
func (a *Asset) Streamer() beep.StreamSeeker {
	return a.Buffer.Streamer(0, a.Buffer.Len())
}

// Mono extracts the first channel as float32 samples.
func (a *Asset) Mono() analysis.Buffer {
	out := make([]float32, 0, a.Buffer.Len())
	s := a.Streamer()
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
	return analysis.Buffer{Samples: out, SampleRate: int(a.Format.SampleRate)}
}

// DetectFormat guesses the format from the name's extension, then from magic bytes.
func DetectFormat(name string, head []byte) Format {
	if f := formatFromName(name); f != FormatUnknown {
		return f
	}
	switch {
	case bytes.HasPrefix(head, []byte("RIFF")) && len(head) >= 12 && string(head[8:12]) == "WAVE":
		return FormatWAV
	case bytes.HasPrefix(head, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(head, []byte("OggS")):
		return FormatVorbis
	case bytes.HasPrefix(head, []byte("ID3")):
		return FormatMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		// MPEG frame sync
		return FormatMP3
	}
	return FormatUnknown
}

// IsAudioName reports whether name has an extension Decode understands.
func IsAudioName(name string) bool {
	return formatFromName(name) != FormatUnknown
}

func formatFromName(name string) Format {
	p := name
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".mp3":
		return FormatMP3
	case ".wav", ".wave":
		return FormatWAV
	case ".flac":
		return FormatFLAC
	case ".ogg", ".oga":
		return FormatVorbis
	}
	return FormatUnknown
}

// Decode decodes data fully into memory. name is used only for format detection.
func Decode(name string, data []byte) (*Asset, error) {
	format := DetectFormat(name, data)

	var (
		streamer beep.StreamSeekCloser
		f        beep.Format
		err      error
	)
	switch format {
	case FormatMP3:
		streamer, f, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case FormatWAV:
		streamer, f, err = wav.Decode(bytes.NewReader(data))
	case FormatFLAC:
		streamer, f, err = flac.Decode(bytes.NewReader(data))
	case FormatVorbis:
		streamer, f, err = vorbis.Decode(io.NopCloser(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s as %s: %w", name, format, err)
	}
	defer streamer.Close()

	buf := beep.NewBuffer(f)
	buf.Append(streamer)
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%s: decoded audio is empty", name)
	}
	return &Asset{Buffer: buf, Format: f}, nil
}
