package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"StemMixer/core/player"
	"StemMixer/core/services"
	"StemMixer/core/session"
	"StemMixer/core/transport"
	"StemMixer/model"
)

type fakeTransport struct {
	mu       sync.Mutex
	calls    []string
	playErr  error
	tracks   map[string]bool
	volume   float64
	muted    bool
	position float64
	subs     chan model.TransportSnapshot
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		tracks: map[string]bool{"vocals": true, "drums": true},
		volume: 1,
		subs:   make(chan model.TransportSnapshot, 4),
	}
}

func (f *fakeTransport) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTransport) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) Play() error {
	f.record("play")
	return f.playErr
}

func (f *fakeTransport) Pause() error { f.record("pause"); return nil }
func (f *fakeTransport) Stop() error  { f.record("stop"); return nil }

func (f *fakeTransport) Seek(seconds float64) error {
	f.record(fmt.Sprintf("seek %.1f", seconds))
	f.mu.Lock()
	f.position = seconds
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) track(call, key string) error {
	if !f.tracks[key] {
		return fmt.Errorf("%s: %w", key, transport.ErrUnknownTrack)
	}
	f.record(call + " " + key)
	return nil
}

func (f *fakeTransport) SetTrackMute(key string, muted bool) error {
	return f.track(fmt.Sprintf("mute=%v", muted), key)
}

func (f *fakeTransport) SetTrackSolo(key string, solo bool) error {
	return f.track(fmt.Sprintf("solo=%v", solo), key)
}

func (f *fakeTransport) SetTrackVolume(key string, volume float64) error {
	return f.track(fmt.Sprintf("volume=%.1f", volume), key)
}

func (f *fakeTransport) SetTrackPan(key string, pan float64) error {
	return f.track(fmt.Sprintf("pan=%.1f", pan), key)
}

func (f *fakeTransport) SetMasterVolume(volume float64) {
	f.record(fmt.Sprintf("master volume=%.1f", volume))
	f.mu.Lock()
	f.volume = volume
	f.mu.Unlock()
}

func (f *fakeTransport) SetMasterMute(muted bool) {
	f.record(fmt.Sprintf("master mute=%v", muted))
	f.mu.Lock()
	f.muted = muted
	f.mu.Unlock()
}

func (f *fakeTransport) Envelope(key string) ([]float32, error) {
	if !f.tracks[key] {
		return nil, fmt.Errorf("%s: %w", key, transport.ErrUnknownTrack)
	}
	return []float32{0, 0.5, 1}, nil
}

func (f *fakeTransport) Snapshot() model.TransportSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.TransportSnapshot{
		State:    model.TransportReady,
		Playhead: f.position,
		Volume:   f.volume,
		Muted:    f.muted,
	}
}

func (f *fakeTransport) Subscribe() (<-chan model.TransportSnapshot, func()) {
	return f.subs, func() {}
}

type fakeSession struct {
	song      *model.Song
	selectErr error
	clickErr  error
	separated *session.SeparateRequest
	colors    map[string]string
	closed    bool
	metronome bool
}

func (f *fakeSession) Current() *model.Song { return f.song }

func (f *fakeSession) SelectSong(ctx context.Context, id string) (*model.Song, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	f.song = &model.Song{ID: id, Title: "Song " + id}
	return f.song, nil
}

func (f *fakeSession) SetTrackColor(ctx context.Context, key, color string) (*session.Result, error) {
	if f.colors == nil {
		f.colors = make(map[string]string)
	}
	f.colors[key] = color
	return &session.Result{Song: f.song, Warnings: []string{"track color was applied but not saved: db down"}}, nil
}

func (f *fakeSession) GenerateClickTrack(ctx context.Context) (*session.ClickResult, error) {
	if f.clickErr != nil {
		return nil, f.clickErr
	}
	return &session.ClickResult{Result: session.Result{Song: f.song}, ClickURL: "https://cdn/click.wav", SilenceMs: 120}, nil
}

func (f *fakeSession) AnalyzeMissing(ctx context.Context) (*session.Result, error) {
	if f.song == nil {
		return nil, session.ErrNoSongSelected
	}
	return &session.Result{Song: f.song}, nil
}

func (f *fakeSession) Separate(ctx context.Context, req session.SeparateRequest) (*session.Result, error) {
	data, _ := io.ReadAll(req.File)
	req.File = bytes.NewReader(data)
	f.separated = &req
	return &session.Result{Song: &model.Song{ID: "new", Title: req.Title}}, nil
}

func (f *fakeSession) SetMetronome(ctx context.Context, enabled bool) (*session.MetronomeResult, error) {
	if f.song == nil {
		return nil, session.ErrNoSongSelected
	}
	f.metronome = enabled
	if !enabled {
		return &session.MetronomeResult{}, nil
	}
	return &session.MetronomeResult{Enabled: true, BPM: 120, BeatsPerBar: 4, FirstBeatMs: 350}, nil
}

func (f *fakeSession) Close() { f.closed = true; f.song = nil }

type fakeSongs struct{}

func (fakeSongs) GetByID(ctx context.Context, id string) (*model.Song, error) {
	if id == "s1" {
		return &model.Song{ID: "s1", Title: "Take Five"}, nil
	}
	return nil, nil
}

func (fakeSongs) ListByUser(ctx context.Context, userID string) ([]*model.Song, error) {
	if userID == "broken" {
		return nil, errors.New("db down")
	}
	return []*model.Song{{ID: "s1", UserID: userID}}, nil
}

func newTestServer() (*Server, *fakeTransport, *fakeSession) {
	tr := newFakeTransport()
	sess := &fakeSession{}
	return New(tr, sess, fakeSongs{}), tr, sess
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestTransportCommands(t *testing.T) {
	s, tr, _ := newTestServer()

	tests := []struct {
		method, path, body string
		status             int
		call               string
	}{
		{http.MethodPost, "/api/transport/play", "", http.StatusOK, "play"},
		{http.MethodPost, "/api/transport/pause", "", http.StatusOK, "pause"},
		{http.MethodPost, "/api/transport/stop", "", http.StatusOK, "stop"},
		{http.MethodPost, "/api/transport/seek", `{"position": 12.5}`, http.StatusOK, "seek 12.5"},
		{http.MethodPost, "/api/transport/seek", `{}`, http.StatusBadRequest, ""},
		{http.MethodPut, "/api/transport/master", `{"volume": 0.5}`, http.StatusOK, "master volume=0.5"},
		{http.MethodPut, "/api/transport/master", `{"muted": true}`, http.StatusOK, "master mute=true"},
		{http.MethodPut, "/api/transport/tracks/vocals", `{"solo": true}`, http.StatusOK, "solo=true vocals"},
		{http.MethodPut, "/api/transport/tracks/drums", `{"volume": 0.3, "pan": -1}`, http.StatusOK, "pan=-1.0 drums"},
		{http.MethodPut, "/api/transport/tracks/piano", `{"muted": true}`, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		before := len(tr.called())
		rec := do(t, s, tt.method, tt.path, tt.body)
		if rec.Code != tt.status {
			t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.status, rec.Body.String())
			continue
		}
		calls := tr.called()
		if tt.call == "" {
			if len(calls) != before {
				t.Errorf("%s %s made calls %v", tt.method, tt.path, calls[before:])
			}
			continue
		}
		if calls[len(calls)-1] != tt.call {
			t.Errorf("%s %s last call = %q, want %q", tt.method, tt.path, calls[len(calls)-1], tt.call)
		}
	}
}

func TestPlayNotLoadedIsConflict(t *testing.T) {
	s, tr, _ := newTestServer()
	tr.playErr = transport.ErrNotLoaded

	rec := do(t, s, http.MethodPost, "/api/transport/play", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ErrorResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Error == "" {
		t.Error("error message missing")
	}
}

func TestTrackColorReturnsWarnings(t *testing.T) {
	s, _, sess := newTestServer()

	rec := do(t, s, http.MethodPut, "/api/transport/tracks/vocals", `{"color": "#00ff00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp TransportResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Warnings) != 1 || sess.colors["vocals"] != "#00ff00" {
		t.Errorf("warnings = %v colors = %v", resp.Warnings, sess.colors)
	}
}

func TestWaveform(t *testing.T) {
	s, _, _ := newTestServer()

	rec := do(t, s, http.MethodGet, "/api/transport/tracks/vocals/waveform", "")
	var resp WaveformResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if rec.Code != http.StatusOK || len(resp.Envelope) != 3 || resp.Key != "vocals" {
		t.Errorf("status = %d resp = %+v", rec.Code, resp)
	}

	if rec := do(t, s, http.MethodGet, "/api/transport/tracks/nope/waveform", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown track status = %d", rec.Code)
	}
}

func TestSelectSong(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"ok", `{"songId": "s1"}`, nil, http.StatusOK},
		{"missing id", `{}`, nil, http.StatusBadRequest},
		{"not found", `{"songId": "x"}`, fmt.Errorf("x: %w", session.ErrSongNotFound), http.StatusNotFound},
		{"nothing to play", `{"songId": "s1"}`, transport.ErrNothingToPlay, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, sess := newTestServer()
			sess.selectErr = tt.err
			rec := do(t, s, http.MethodPost, "/api/session/song", tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, _, sess := newTestServer()

	if rec := do(t, s, http.MethodPost, "/api/session/analyze", ""); rec.Code != http.StatusConflict {
		t.Errorf("analyze without song = %d", rec.Code)
	}

	do(t, s, http.MethodPost, "/api/session/song", `{"songId": "s1"}`)
	rec := do(t, s, http.MethodGet, "/api/session", "")
	var resp SessionResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Song == nil || resp.Song.ID != "s1" || resp.Transport.State != model.TransportReady {
		t.Errorf("session = %+v", resp)
	}

	if rec := do(t, s, http.MethodDelete, "/api/session", ""); rec.Code != http.StatusOK || !sess.closed {
		t.Errorf("close = %d closed = %v", rec.Code, sess.closed)
	}
}

func TestClickTrack(t *testing.T) {
	s, _, sess := newTestServer()
	sess.song = &model.Song{ID: "s1"}

	rec := do(t, s, http.MethodPost, "/api/session/click-track", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "https://cdn/click.wav") {
		t.Errorf("click = %d %s", rec.Code, rec.Body.String())
	}

	sess.clickErr = &services.Error{Op: "generate-click-track", Status: 500, Message: "renderer crashed"}
	rec = do(t, s, http.MethodPost, "/api/session/click-track", "")
	if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), "renderer crashed") {
		t.Errorf("click failure = %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetronome(t *testing.T) {
	s, _, sess := newTestServer()

	if rec := do(t, s, http.MethodPut, "/api/session/metronome", `{"enabled":true}`); rec.Code != http.StatusConflict {
		t.Errorf("without song = %d", rec.Code)
	}

	sess.song = &model.Song{ID: "s1"}
	rec := do(t, s, http.MethodPut, "/api/session/metronome", `{"enabled":true}`)
	if rec.Code != http.StatusOK || !sess.metronome || !strings.Contains(rec.Body.String(), `"firstBeatMs":350`) {
		t.Errorf("on = %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, s, http.MethodPut, "/api/session/metronome", `{"enabled":false}`)
	if rec.Code != http.StatusOK || sess.metronome {
		t.Errorf("off = %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, s, http.MethodPut, "/api/session/metronome", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing enabled = %d", rec.Code)
	}
}

func TestHealthReportsAudio(t *testing.T) {
	s, _, _ := newTestServer()
	rec := do(t, s, http.MethodGet, "/api/health", "")
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["audio"] != player.AudioAvailable {
		t.Errorf("health = %v", body)
	}
}

func TestSongs(t *testing.T) {
	s, _, _ := newTestServer()

	tests := []struct {
		path   string
		status int
	}{
		{"/api/songs?userId=u1", http.StatusOK},
		{"/api/songs", http.StatusBadRequest},
		{"/api/songs?userId=broken", http.StatusInternalServerError},
		{"/api/songs/s1", http.StatusOK},
		{"/api/songs/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := do(t, s, http.MethodGet, tt.path, ""); rec.Code != tt.status {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.status)
		}
	}
}

func TestSeparateUpload(t *testing.T) {
	s, _, sess := newTestServer()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "demo.mp3")
	fw.Write([]byte("ID3 fake audio"))
	mw.WriteField("separation_type", "4stems")
	mw.WriteField("hi_fi", "true")
	mw.WriteField("title", "Demo")
	mw.WriteField("user_id", "u1")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/separate", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := sess.separated
	if got.Filename != "demo.mp3" || got.SeparationType != "4stems" || !got.HiFi || got.UserID != "u1" || got.Title != "Demo" {
		t.Errorf("request = %+v", got)
	}
	data, _ := io.ReadAll(got.File)
	if string(data) != "ID3 fake audio" {
		t.Errorf("file = %q", data)
	}
}

func TestSeparateRequiresFile(t *testing.T) {
	s, _, _ := newTestServer()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("title", "Demo")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/separate", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer()
	rec := do(t, s, http.MethodOptions, "/api/transport/play", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{transport.ErrNothingToPlay, http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", transport.ErrUnknownTrack), http.StatusNotFound},
		{session.ErrNoSongSelected, http.StatusConflict},
		{session.ErrMissingTempo, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", &services.Error{Op: "analyze-bpm"}), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{transport.ErrNotFinite, http.StatusBadRequest},
		{fmt.Errorf("metronome: %w", transport.ErrReferenceTrack), http.StatusConflict},
		{fmt.Errorf("x: %w", player.ErrInvalidMetronome), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
