package diary

import "github.com/zhouzirui/voice-diary/backend/internal/analysis/emotion"

// WeeklyDay is one calendar date of the weekly review chart.
type WeeklyDay struct {
	Date           string   `json:"date"`
	EmotionLabel   *string  `json:"emotionLabel,omitempty"`
	EmotionScore   *float64 `json:"emotionScore,omitempty"`
	EmotionValence *float64 `json:"emotionValence,omitempty"`
	Color          *string  `json:"color,omitempty"`
}

// NewWeeklyDay builds a day entry. The color is derived from the label, so the two are
// either both present or both absent.
func NewWeeklyDay(date string, result *emotion.Result) WeeklyDay {
	day := WeeklyDay{Date: date}
	if result == nil {
		return day
	}
	color, ok := emotion.Color(result.Label)
	if !ok {
		return day
	}
	label := string(result.Label)
	score := result.Score
	valence := result.Valence
	day.EmotionLabel = &label
	day.EmotionScore = &score
	day.EmotionValence = &valence
	day.Color = &color
	return day
}
