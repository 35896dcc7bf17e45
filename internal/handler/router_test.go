package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/voice-diary/backend/internal/config"
	"github.com/zhouzirui/voice-diary/backend/internal/service/ai"
	diaryService "github.com/zhouzirui/voice-diary/backend/internal/service/diary"
	"github.com/zhouzirui/voice-diary/backend/internal/service/emotion"
	"github.com/zhouzirui/voice-diary/backend/internal/service/speech"
	weeklyService "github.com/zhouzirui/voice-diary/backend/internal/service/weekly"
	"github.com/zhouzirui/voice-diary/backend/internal/store"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestRouter(db Pinger, origins []string) http.Handler {
	st := store.NewMemoryStore()
	diarySvc := diaryService.NewService(diaryService.Dependencies{
		Store:       st,
		Transcriber: speech.NewDemoTranscriber(nil),
		Reflector:   ai.NewDemo(nil),
		Analyzer:    emotion.NewDemo(nil),
	}, diaryService.Config{})
	weeklySvc := weeklyService.NewService(st, time.UTC)

	if db == nil {
		db = st
	}
	cfg := config.ServerConfig{AllowedOrigins: origins, RequestTimeout: 5 * time.Second}
	return NewRouter(cfg, db, diarySvc, weeklySvc)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(nil, nil)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestHealthDegraded(t *testing.T) {
	r := newTestRouter(failingPinger{}, nil)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"degraded"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestRoutesMountedUnderAPI(t *testing.T) {
	r := newTestRouter(nil, []string{"https://app.example"})

	req := httptest.NewRequest(http.MethodPost, "/api/diary/start", strings.NewReader(`{"deviceId":"d1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://app.example")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("unexpected allow-origin %q", got)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/weekly-review?deviceId=d1", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}
