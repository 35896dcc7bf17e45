package main

import (
	"testing"

	"github.com/zhouzirui/voice-diary/backend/internal/analysis/emotion"
	"github.com/zhouzirui/voice-diary/backend/internal/model/diary"
)

func TestDayColor(t *testing.T) {
	empty := diary.NewWeeklyDay("2026-10-01", nil)
	if got := dayColor(empty); got != emotion.DefaultColor {
		t.Fatalf("empty day color = %q, want %q", got, emotion.DefaultColor)
	}

	rated := diary.NewWeeklyDay("2026-10-02", &emotion.Result{Label: emotion.Joy, Score: 0.9, Valence: 0.8})
	want, _ := emotion.Color(emotion.Joy)
	if got := dayColor(rated); got != want {
		t.Fatalf("rated day color = %q, want %q", got, want)
	}
}
