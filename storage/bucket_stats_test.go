package storage

import (
	"testing"
	"time"
)

func TestStatsAndGrouping(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	objects := []ObjectInfo{
		{Key: "songs/a/vocals.wav", Size: 100, LastModified: t0},
		{Key: "songs/a/drums.mp3", Size: 50, LastModified: t0.Add(time.Hour)},
		{Key: "songs/a/cover.jpg", Size: 10, LastModified: t0},
		{Key: "songs/b/click.wav", Size: 5, LastModified: t0},
	}

	stats := Stats(objects)
	if stats.TotalObjects != 4 || stats.TotalSize != 165 || stats.AudioObjects != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if !stats.LastModified.Equal(t0.Add(time.Hour)) {
		t.Errorf("last modified = %v", stats.LastModified)
	}

	groups := GroupBySong(objects)
	if len(groups) != 2 {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0].Prefix != "songs/a/" || len(groups[0].Stems) != 2 {
		t.Errorf("first group = %+v", groups[0])
	}
	if _, ok := groups[0].Stems["vocals"]; !ok {
		t.Errorf("vocals missing from %v", groups[0].Stems)
	}
	if _, ok := groups[1].Stems["click"]; !ok {
		t.Errorf("click missing from %v", groups[1].Stems)
	}
}
