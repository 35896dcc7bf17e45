package weekly

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voice-diary/backend/internal/analysis/emotion"
	diarymodel "github.com/zhouzirui/voice-diary/backend/internal/model/diary"
	weeklyService "github.com/zhouzirui/voice-diary/backend/internal/service/weekly"
	"github.com/zhouzirui/voice-diary/backend/internal/store"
)

func setupRouter() (*chi.Mux, *store.MemoryStore) {
	st := store.NewMemoryStore()
	r := chi.NewRouter()
	New(weeklyService.NewService(st, time.UTC)).RegisterRoutes(r)
	return r, st
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestWeeklyReviewUnknownDevice(t *testing.T) {
	r, _ := setupRouter()

	resp := get(r, "/weekly-review?deviceId=nobody")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body weeklyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(body.Days) != weeklyService.Days {
		t.Fatalf("expected %d days, got %d", weeklyService.Days, len(body.Days))
	}
	for i, day := range body.Days {
		if day.EmotionLabel != nil || day.Color != nil {
			t.Fatalf("day %d should be empty: %+v", i, day)
		}
		if i > 0 && day.Date <= body.Days[i-1].Date {
			t.Fatalf("days must be ascending: %s after %s", day.Date, body.Days[i-1].Date)
		}
	}
}

func TestWeeklyReviewIncludesToday(t *testing.T) {
	r, st := setupRouter()
	ctx := context.Background()

	user, err := st.UpsertUser(ctx, "device-1")
	if err != nil {
		t.Fatalf("UpsertUser err: %v", err)
	}
	session, err := st.CreateSession(ctx, user.ID)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if _, err := st.CloseSession(ctx, session.ID, diarymodel.Closure{
		EndedAt: time.Now(),
		Emotion: &emotion.Result{Label: emotion.Joy, Score: 0.9, Valence: 0.8, Summary: "いい日"},
	}); err != nil {
		t.Fatalf("CloseSession err: %v", err)
	}

	resp := get(r, "/weekly-review?deviceId=device-1&tz=UTC")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body weeklyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	today := body.Days[len(body.Days)-1]
	if today.EmotionLabel == nil || *today.EmotionLabel != string(emotion.Joy) {
		t.Fatalf("unexpected today entry %+v", today)
	}
	if today.Color == nil || *today.Color != "#FFD700" {
		t.Fatalf("unexpected color %+v", today.Color)
	}
}

func TestWeeklyReviewValidation(t *testing.T) {
	r, _ := setupRouter()

	cases := map[string]string{
		"missing device": "/weekly-review",
		"blank device":   "/weekly-review?deviceId=%20",
		"bad timezone":   "/weekly-review?deviceId=d&tz=Mars/Olympus",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			resp := get(r, target)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.Code)
			}
		})
	}
}
