package main

import (
	"testing"
	"time"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC) // a Wednesday

	tests := []struct {
		text string
		want time.Time
	}{
		{text: "36h", want: now.Add(-36 * time.Hour)},
		{text: " 90m ", want: now.Add(-90 * time.Minute)},
		{text: "3 days ago", want: now.AddDate(0, 0, -3)},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := parseSince(tt.text, now)
			if err != nil {
				t.Fatalf("parseSince() failed: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseSince(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseSince_Yesterday(t *testing.T) {
	now := time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)

	got, err := parseSince("yesterday", now)
	if err != nil {
		t.Fatalf("parseSince() failed: %v", err)
	}
	if got.Year() != 2024 || got.Month() != time.June || got.Day() != 11 {
		t.Errorf("parseSince(yesterday) = %v, want June 11", got)
	}
}

func TestParseSince_Unknown(t *testing.T) {
	if _, err := parseSince("whenever", time.Now()); err == nil {
		t.Error("parseSince() should fail on an unrecognised phrase")
	}
}
