package repository

import (
	"reflect"
	"testing"
)

func TestAnalysisUpdatesSkipsUnknownFields(t *testing.T) {
	tests := []struct {
		name string
		in   SongAnalysis
		want map[string]interface{}
	}{
		{"nothing detected", SongAnalysis{}, map[string]interface{}{}},
		{"bpm only", SongAnalysis{BPM: 96, BPMConfidence: 0.8}, map[string]interface{}{"bpm": 96.0, "bpm_confidence": 0.8}},
		{"key and meter", SongAnalysis{Key: "F# minor", TimeSignature: "6/8"}, map[string]interface{}{"music_key": "F# minor", "time_signature": "6/8"}},
	}
	for _, tt := range tests {
		if got := analysisUpdates(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: analysisUpdates = %v, want %v", tt.name, got, tt.want)
		}
	}
}
