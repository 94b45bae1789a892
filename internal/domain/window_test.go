package domain

import (
	"testing"
	"time"
)

func TestWindowFor(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	day := func(d int) time.Time { return time.Date(2025, 3, d, 0, 0, 0, 0, loc) }

	tests := []struct {
		name    string
		now     time.Time
		cutover int
		from    time.Time
		to      time.Time
	}{
		{"0459 is yesterday", time.Date(2025, 3, 10, 4, 59, 0, 0, loc), 5, day(9), day(10)},
		{"0500 is today", time.Date(2025, 3, 10, 5, 0, 0, 0, loc), 5, day(10), day(10)},
		{"midnight is yesterday", time.Date(2025, 3, 10, 0, 0, 0, 0, loc), 5, day(9), day(10)},
		{"noon is today", time.Date(2025, 3, 10, 12, 0, 0, 0, loc), 5, day(10), day(10)},
		{"0559 cutover six", time.Date(2025, 3, 10, 5, 59, 0, 0, loc), 6, day(9), day(10)},
		{"0600 cutover six", time.Date(2025, 3, 10, 6, 0, 0, 0, loc), 6, day(10), day(10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WindowFor(tt.now, tt.cutover)
			if !w.From.Equal(tt.from) {
				t.Errorf("Expected from %v, got %v", tt.from, w.From)
			}
			if !w.To.Equal(tt.to) {
				t.Errorf("Expected to %v, got %v", tt.to, w.To)
			}
		})
	}
}

func TestDateWindowIsZero(t *testing.T) {
	if !(DateWindow{}).IsZero() {
		t.Error("Expected zero window to report IsZero")
	}
	w := WindowFor(time.Now(), 5)
	if w.IsZero() {
		t.Error("Expected computed window to not be zero")
	}
}
