package store

import "testing"

func TestNormalizeBM25Score(t *testing.T) {
	tests := []struct {
		name string
		raw  float64
		want uint32
	}{
		{"zero score", 0, 0},
		{"far negative clamps to 100", -40, 100},
		{"half magnitude", -10, 50},
		{"positive score clamps to 0", 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeBM25Score(tt.raw); got != tt.want {
				t.Errorf("NormalizeBM25Score(%v) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}
