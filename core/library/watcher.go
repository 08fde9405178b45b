// Package library pre-computes waveform envelopes and onsets for audio files
// in a local folder so later loads hit the analysis cache.
package library

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"StemMixer/core/decoder"
	"StemMixer/core/transport"
	"StemMixer/logger"
	"StemMixer/model"

	"github.com/fsnotify/fsnotify"
)

// settleDelay 文件最后一次写入后等待多久再解码
const settleDelay = 500 * time.Millisecond

// FileURL is the cache key of a local file: an absolute file:// URL.
func FileURL(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// Indexer analyzes local audio files into an analysis cache.
type Indexer struct {
	cache      transport.AnalysisCache
	resolution int
	settle     time.Duration
}

// NewIndexer returns an indexer writing envelopes of the given resolution.
func NewIndexer(cache transport.AnalysisCache, resolution int) *Indexer {
	if resolution <= 0 {
		resolution = transport.Options{}.WithDefaults().WaveformResolution
	}
	return &Indexer{cache: cache, resolution: resolution, settle: settleDelay}
}

// IndexFile decodes path and stores its analysis. Already cached files are
// returned from the cache without decoding.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (model.TrackAnalysis, error) {
	key := FileURL(path)
	if a, ok := ix.cache.Get(key); ok {
		return a, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return model.TrackAnalysis{}, err
	}
	asset, err := decoder.Decode(path, data)
	if err != nil {
		return model.TrackAnalysis{}, err
	}

	a := transport.Analyze(key, asset.Mono(), ix.resolution)
	if err := ix.cache.Put(ctx, a); err != nil {
		return a, fmt.Errorf("failed to cache analysis of %s: %w", path, err)
	}
	logger.Debug("indexed audio file",
		logger.String("path", path),
		logger.Int("onsetMs", a.OnsetMs),
		logger.Int("durationMs", a.DurationMs))
	return a, nil
}

// Scan indexes every audio file below dir and returns how many were indexed.
// Files that fail to decode are logged and skipped.
func (ix *Indexer) Scan(ctx context.Context, dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !decoder.IsAudioName(path) {
			return nil
		}
		if _, err := ix.IndexFile(ctx, path); err != nil {
			logger.Warn("failed to index audio file", logger.String("path", path), logger.ErrorField(err))
			return nil
		}
		count++
		return nil
	})
	return count, err
}

// Watch indexes audio files created or rewritten in dir until ctx is done.
// A file is decoded once it has been quiet for the settle delay.
func (ix *Indexer) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Info("watching library folder", logger.String("dir", dir))

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
		wg      sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			if t.Stop() {
				wg.Done()
			}
		}
		mu.Unlock()
		wg.Wait()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok && t.Stop() {
			t.Reset(ix.settle)
			return
		}
		wg.Add(1)
		var t *time.Timer
		t = time.AfterFunc(ix.settle, func() {
			defer wg.Done()
			mu.Lock()
			if pending[path] == t {
				delete(pending, path)
			}
			mu.Unlock()

			if _, err := ix.IndexFile(ctx, path); err != nil {
				logger.Warn("failed to index audio file", logger.String("path", path), logger.ErrorField(err))
			}
		})
		pending[path] = t
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !decoder.IsAudioName(event.Name) {
				continue
			}
			schedule(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", logger.ErrorField(err))
		case <-ctx.Done():
			return nil
		}
	}
}
