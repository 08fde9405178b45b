package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"StemMixer/config"
)

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/vocals.mp3":
			w.Write([]byte("audio-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5 * time.Second)
	data, err := f.Fetch(context.Background(), srv.URL+"/vocals.mp3")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("data = %q", data)
	}

	if _, err := f.Fetch(context.Background(), srv.URL+"/missing.mp3"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestHTTPFetcherCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHTTPFetcher(time.Second).Fetch(ctx, srv.URL); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestFileFetcher(t *testing.T) {
	p := filepath.Join(t.TempDir(), "drums.wav")
	if err := os.WriteFile(p, []byte("wav"), 0644); err != nil {
		t.Fatal(err)
	}

	for _, u := range []string{p, "file://" + p} {
		data, err := FileFetcher{}.Fetch(context.Background(), u)
		if err != nil {
			t.Fatalf("Fetch(%s): %v", u, err)
		}
		if string(data) != "wav" {
			t.Errorf("Fetch(%s) = %q", u, data)
		}
	}
	if _, err := (FileFetcher{}).Fetch(context.Background(), filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRouterDispatch(t *testing.T) {
	var got string
	r := NewRouter(FetcherFunc(func(ctx context.Context, rawURL string) ([]byte, error) {
		got = rawURL
		return []byte("http"), nil
	}))
	r.Register(MinioScheme, FetcherFunc(func(ctx context.Context, rawURL string) ([]byte, error) {
		return []byte("minio"), nil
	}))

	data, err := r.Fetch(context.Background(), "https://cdn/x.mp3")
	if err != nil || string(data) != "http" || got != "https://cdn/x.mp3" {
		t.Errorf("https dispatch = %q, %v (got %q)", data, err, got)
	}
	data, err = r.Fetch(context.Background(), "minio://stems/a/b.wav")
	if err != nil || string(data) != "minio" {
		t.Errorf("minio dispatch = %q, %v", data, err)
	}
	if _, err := r.Fetch(context.Background(), "ftp://host/x.mp3"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("ftp err = %v, want ErrUnsupportedScheme", err)
	}
}

func TestMinioParseObjectURL(t *testing.T) {
	m, err := NewMinioClient(&config.Config{MinioEndpoint: "127.0.0.1:9000", MinioBucket: "stems", MinioRegion: "us-east-1"})
	if err != nil {
		t.Fatalf("NewMinioClient: %v", err)
	}

	tests := []struct {
		in         string
		bucket     string
		key        string
		shouldFail bool
	}{
		{"minio://stems/u1/s1/vocals.wav", "stems", "u1/s1/vocals.wav", false},
		{"minio:///u1/click.wav", "stems", "u1/click.wav", false},
		{"minio://other/x.mp3", "other", "x.mp3", false},
		{"minio://stems/", "", "", true},
		{"https://cdn/x.mp3", "", "", true},
	}
	for _, tt := range tests {
		bucket, key, err := m.ParseObjectURL(tt.in)
		if tt.shouldFail {
			if err == nil {
				t.Errorf("ParseObjectURL(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || bucket != tt.bucket || key != tt.key {
			t.Errorf("ParseObjectURL(%q) = %q, %q, %v", tt.in, bucket, key, err)
		}
	}

	if got := m.ObjectURL("/u1/s1/click.wav"); got != "minio://stems/u1/s1/click.wav" {
		t.Errorf("ObjectURL = %q", got)
	}
}
