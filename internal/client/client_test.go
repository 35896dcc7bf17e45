package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	analysis "github.com/zhouzirui/voice-diary/backend/internal/analysis/emotion"
	"github.com/zhouzirui/voice-diary/backend/internal/config"
	"github.com/zhouzirui/voice-diary/backend/internal/handler"
	"github.com/zhouzirui/voice-diary/backend/internal/model/diary"
	"github.com/zhouzirui/voice-diary/backend/internal/service/ai"
	diaryService "github.com/zhouzirui/voice-diary/backend/internal/service/diary"
	"github.com/zhouzirui/voice-diary/backend/internal/service/emotion"
	"github.com/zhouzirui/voice-diary/backend/internal/service/speech"
	weeklyService "github.com/zhouzirui/voice-diary/backend/internal/service/weekly"
	"github.com/zhouzirui/voice-diary/backend/internal/store"
)

// newDemoServer 启动使用脚本化依赖的完整后端。
func newDemoServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := store.NewMemoryStore()
	diarySvc := diaryService.NewService(diaryService.Dependencies{
		Store:       st,
		Transcriber: speech.NewDemoTranscriber(nil),
		Reflector:   ai.NewDemo(nil),
		Analyzer:    emotion.NewDemo(nil),
	}, diaryService.Config{})
	router := handler.NewRouter(config.ServerConfig{}, st, diarySvc, weeklyService.NewService(st, time.UTC))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func writeAudioFiles(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, "turn"+string(rune('a'+i))+".m4a")
		if err := os.WriteFile(path, []byte("fake audio"), 0o644); err != nil {
			t.Fatalf("write audio err: %v", err)
		}
		paths = append(paths, path)
	}
	return paths
}

func TestClientEndpoints(t *testing.T) {
	server := newDemoServer(t)
	c := NewClient(server.URL+"/", time.Second)
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health err: %v", err)
	}

	started, err := c.Start(ctx, "device-1")
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}
	turn, err := c.Respond(ctx, started.SessionID, Recording{Data: []byte("a"), MimeType: "audio/m4a"})
	if err != nil {
		t.Fatalf("Respond err: %v", err)
	}
	if turn.Transcript != speech.DemoTranscripts[0] {
		t.Fatalf("unexpected transcript %q", turn.Transcript)
	}

	ended, err := c.End(ctx, started.SessionID)
	if err != nil {
		t.Fatalf("End err: %v", err)
	}
	if ended.Emotion().Label == "" {
		t.Fatalf("unexpected end response %+v", ended)
	}

	days, err := c.Weekly(ctx, "device-1", "UTC")
	if err != nil {
		t.Fatalf("Weekly err: %v", err)
	}
	if len(days) != weeklyService.Days || days[len(days)-1].EmotionLabel == nil {
		t.Fatalf("unexpected weekly days %+v", days)
	}
}

func TestClientReturnsAPIError(t *testing.T) {
	server := newDemoServer(t)
	c := NewClient(server.URL, time.Second)

	_, err := c.End(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "session not found" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestControllerStatelessFlow(t *testing.T) {
	server := newDemoServer(t)
	entries := NewEntryStore(filepath.Join(t.TempDir(), "entries.json"))
	recorder := NewFileRecorder(writeAudioFiles(t, len(ai.DemoReflections))...)

	ctrl, err := NewController(NewClient(server.URL, time.Second), recorder, entries, Options{})
	if err != nil {
		t.Fatalf("NewController err: %v", err)
	}
	ctx := context.Background()

	greeting, err := ctrl.Begin(ctx)
	if err != nil || greeting != DefaultGreeting {
		t.Fatalf("Begin = %q, %v", greeting, err)
	}

	var last TurnOutcome
	for i := range ai.DemoReflections {
		if err := ctrl.StartRecording(ctx); err != nil {
			t.Fatalf("turn %d StartRecording err: %v", i, err)
		}
		last, err = ctrl.StopRecording(ctx)
		if err != nil {
			t.Fatalf("turn %d StopRecording err: %v", i, err)
		}
	}

	if !last.IsEnding || last.Entry == nil {
		t.Fatalf("last turn should end the session: %+v", last)
	}
	if !ctrl.Finished() {
		t.Fatal("controller should be finished")
	}

	turns := ctrl.Turns()
	if len(turns) != 1+2*len(ai.DemoReflections) {
		t.Fatalf("unexpected turn count %d", len(turns))
	}
	if turns[1].Role != diary.RoleUser || turns[2].Role != diary.RoleAssistant {
		t.Fatalf("turns must alternate user then assistant: %+v", turns[:3])
	}

	want := speech.DemoTranscripts[0] + "\n" + speech.DemoTranscripts[1] + "\n" + speech.DemoTranscripts[2]
	if last.Entry.Transcript != want {
		t.Fatalf("unexpected transcript %q", last.Entry.Transcript)
	}
	if _, ok := ctrl.Emotion(); !ok {
		t.Fatal("emotion should be set after finishing")
	}

	saved, err := entries.Load()
	if err != nil || len(saved) != 1 {
		t.Fatalf("expected one saved entry, got %d (%v)", len(saved), err)
	}

	if err := ctrl.StartRecording(ctx); !errors.Is(err, ErrFinished) {
		t.Fatalf("expected ErrFinished, got %v", err)
	}
}

func TestControllerSessionFlowManualFinish(t *testing.T) {
	server := newDemoServer(t)
	entries := NewEntryStore(filepath.Join(t.TempDir(), "entries.json"))
	recorder := NewFileRecorder(writeAudioFiles(t, 1)...)

	ctrl, err := NewController(NewClient(server.URL, time.Second), recorder, entries, Options{
		Mode:     ModeSession,
		DeviceID: "device-9",
	})
	if err != nil {
		t.Fatalf("NewController err: %v", err)
	}
	ctx := context.Background()

	if _, err := ctrl.Begin(ctx); err != nil {
		t.Fatalf("Begin err: %v", err)
	}
	if ctrl.SessionID() == "" {
		t.Fatal("session mode should obtain a session id")
	}

	if err := ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording err: %v", err)
	}
	outcome, err := ctrl.StopRecording(ctx)
	if err != nil {
		t.Fatalf("StopRecording err: %v", err)
	}
	if outcome.IsEnding {
		t.Fatal("first turn must not end the session")
	}

	entry, err := ctrl.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish err: %v", err)
	}
	if entry.Transcript != speech.DemoTranscripts[0] || entry.EmotionLabel == "" {
		t.Fatalf("unexpected entry %+v", entry)
	}

	days, err := NewClient(server.URL, time.Second).Weekly(ctx, "device-9", "")
	if err != nil {
		t.Fatalf("Weekly err: %v", err)
	}
	if days[len(days)-1].EmotionLabel == nil {
		t.Fatal("server side weekly review should include the closed session")
	}
}

type fakeAPI struct {
	reflectErr error
	analyzed   []string
	histories  [][]diary.Turn
}

func (f *fakeAPI) Start(context.Context, string) (StartResponse, error) {
	return StartResponse{SessionID: "s1", AIMessage: "hello"}, nil
}

func (f *fakeAPI) Respond(context.Context, string, Recording) (TurnResponse, error) {
	return TurnResponse{}, errors.New("not used")
}

func (f *fakeAPI) Reflect(_ context.Context, history []diary.Turn, _ Recording) (TurnResponse, error) {
	f.histories = append(f.histories, history)
	if f.reflectErr != nil {
		return TurnResponse{}, f.reflectErr
	}
	return TurnResponse{Transcript: "heard", AIMessage: "reply"}, nil
}

func (f *fakeAPI) End(context.Context, string) (EndResponse, error) {
	return EndResponse{}, errors.New("not used")
}

func (f *fakeAPI) Analyze(_ context.Context, transcript string) (analysis.Result, error) {
	f.analyzed = append(f.analyzed, transcript)
	return analysis.Result{Label: "平和", Score: 0.5, Summary: "ok"}, nil
}

func TestControllerFailedTurnKeepsState(t *testing.T) {
	api := &fakeAPI{reflectErr: &APIError{StatusCode: http.StatusInternalServerError, Message: "internal server error"}}
	entries := NewEntryStore(filepath.Join(t.TempDir(), "entries.json"))
	ctrl, err := NewController(api, NewFileRecorder(writeAudioFiles(t, 2)...), entries, Options{Greeting: "hi"})
	if err != nil {
		t.Fatalf("NewController err: %v", err)
	}
	ctx := context.Background()
	if _, err := ctrl.Begin(ctx); err != nil {
		t.Fatalf("Begin err: %v", err)
	}

	if err := ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording err: %v", err)
	}
	if _, err := ctrl.StopRecording(ctx); err == nil {
		t.Fatal("expected upstream error")
	}
	if got := len(ctrl.Turns()); got != 1 {
		t.Fatalf("failed turn must not change history, got %d turns", got)
	}

	// 重新录音后成功
	api.reflectErr = nil
	if err := ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording err: %v", err)
	}
	if _, err := ctrl.StopRecording(ctx); err != nil {
		t.Fatalf("StopRecording err: %v", err)
	}
	if len(api.histories[1]) != 1 || api.histories[1][0].Content != "hi" {
		t.Fatalf("history sent to reflect should only hold the greeting, got %+v", api.histories[1])
	}

	entry, err := ctrl.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish err: %v", err)
	}
	if entry.Transcript != "heard" || len(api.analyzed) != 1 {
		t.Fatalf("unexpected finish: entry=%+v analyzed=%v", entry, api.analyzed)
	}
}

func TestControllerFinishWithoutUserTurns(t *testing.T) {
	api := &fakeAPI{}
	entries := NewEntryStore(filepath.Join(t.TempDir(), "entries.json"))
	ctrl, err := NewController(api, NewFileRecorder(), entries, Options{})
	if err != nil {
		t.Fatalf("NewController err: %v", err)
	}
	ctx := context.Background()

	if _, err := ctrl.Finish(ctx); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if _, err := ctrl.Begin(ctx); err != nil {
		t.Fatalf("Begin err: %v", err)
	}
	if _, err := ctrl.Finish(ctx); !errors.Is(err, ErrNothingToSummarize) {
		t.Fatalf("expected ErrNothingToSummarize, got %v", err)
	}
	if len(api.analyzed) != 0 {
		t.Fatal("analyze must not be called without user turns")
	}
	saved, _ := entries.Load()
	if len(saved) != 0 {
		t.Fatalf("nothing should be saved, got %d entries", len(saved))
	}
}

func TestNewControllerValidation(t *testing.T) {
	entries := NewEntryStore(filepath.Join(t.TempDir(), "entries.json"))
	if _, err := NewController(&fakeAPI{}, NewFileRecorder(), entries, Options{Mode: ModeSession}); !errors.Is(err, ErrDeviceIDRequired) {
		t.Fatalf("expected ErrDeviceIDRequired, got %v", err)
	}
	if _, err := NewController(&fakeAPI{}, NewFileRecorder(), entries, Options{Mode: "push"}); !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("expected ErrUnsupportedMode, got %v", err)
	}
	if _, err := NewController(&fakeAPI{}, nil, entries, Options{}); !errors.Is(err, ErrRecorderRequired) {
		t.Fatalf("expected ErrRecorderRequired, got %v", err)
	}
}
