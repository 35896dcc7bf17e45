package emotion

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/voice-diary/backend/internal/analysis/emotion"
	"github.com/zhouzirui/voice-diary/backend/internal/service/demo"
)

type fakeChatModel struct {
	reply string
	err   error
	calls int
	input []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls++
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeChatModel) BindTools([]*schema.ToolInfo) error { return nil }

func TestAnalyzeParsesModelOutput(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  analysis.Result
	}{
		{
			name:  "plain json",
			reply: `{"label":"疲れ","score":0.7,"valence":-0.3,"summary":"お疲れさま"}`,
			want:  analysis.Result{Label: analysis.Fatigue, Score: 0.7, Valence: -0.3, Summary: "お疲れさま"},
		},
		{
			name:  "fenced json",
			reply: "```json\n{\"label\":\"喜び\",\"score\":0.9,\"valence\":0.8,\"summary\":\"いい日\"}\n```",
			want:  analysis.Result{Label: analysis.Joy, Score: 0.9, Valence: 0.8, Summary: "いい日"},
		},
		{
			name:  "english alias with prose",
			reply: `Here you go: {"label":"Calm","score":0.5,"valence":0.2,"summary":" 穏やか "} thanks`,
			want:  analysis.Result{Label: analysis.Peace, Score: 0.5, Valence: 0.2, Summary: "穏やか"},
		},
		{
			name:  "clamped values",
			reply: `{"label":"怒り","score":3,"valence":-4,"summary":"むかむか"}`,
			want:  analysis.Result{Label: analysis.Anger, Score: 1, Valence: -1, Summary: "むかむか"},
		},
		{
			name:  "not json",
			reply: "ごめんなさい、分析できません",
			want:  analysis.Fallback(),
		},
		{
			name:  "unknown label",
			reply: `{"label":"happy-ish","score":0.5,"valence":0.1,"summary":"?"}`,
			want:  analysis.Fallback(),
		},
		{
			name:  "broken json",
			reply: `{"label":"喜び","score":}`,
			want:  analysis.Fallback(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewService(context.Background(), &fakeChatModel{reply: tc.reply})
			if err != nil {
				t.Fatalf("NewService err: %v", err)
			}
			got, err := svc.Analyze(context.Background(), "今日は疲れました")
			if err != nil {
				t.Fatalf("Analyze err: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestAnalyzeEmbedsSchemaInPrompt(t *testing.T) {
	fake := &fakeChatModel{reply: `{"label":"平和","score":0.5,"valence":0,"summary":"ok"}`}
	svc, err := NewService(context.Background(), fake)
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	if _, err := svc.Analyze(context.Background(), "のんびりした"); err != nil {
		t.Fatalf("Analyze err: %v", err)
	}

	if len(fake.input) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(fake.input))
	}
	if !strings.Contains(fake.input[0].Content, `"valence"`) || !strings.Contains(fake.input[0].Content, "空虚") {
		t.Fatalf("system prompt missing schema: %s", fake.input[0].Content)
	}
	if !strings.Contains(fake.input[1].Content, "のんびりした") {
		t.Fatalf("user prompt missing transcript: %s", fake.input[1].Content)
	}
}

func TestAnalyzeBlankTranscriptSkipsModel(t *testing.T) {
	fake := &fakeChatModel{reply: "unused"}
	svc, err := NewService(context.Background(), fake)
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}

	got, err := svc.Analyze(context.Background(), "  \n ")
	if err != nil {
		t.Fatalf("Analyze err: %v", err)
	}
	if got != analysis.Fallback() || fake.calls != 0 {
		t.Fatalf("expected fallback without model call, got %+v calls=%d", got, fake.calls)
	}
}

func TestAnalyzeReturnsUpstreamError(t *testing.T) {
	upstream := errors.New("quota exceeded")
	svc, err := NewService(context.Background(), &fakeChatModel{err: upstream})
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	if _, err := svc.Analyze(context.Background(), "x"); !errors.Is(err, upstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestPayloadSchema(t *testing.T) {
	raw, err := payloadSchema()
	if err != nil {
		t.Fatalf("payloadSchema err: %v", err)
	}

	var doc struct {
		Type       string                    `json:"type"`
		Required   []string                  `json:"required"`
		Properties map[string]map[string]any `json:"properties"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("schema is not valid json: %v", err)
	}
	if doc.Type != "object" || len(doc.Required) != 4 {
		t.Fatalf("unexpected schema header: %+v", doc)
	}
	enum, _ := doc.Properties["label"]["enum"].([]any)
	if len(enum) != len(analysis.Labels()) {
		t.Fatalf("label enum has %d values, want %d", len(enum), len(analysis.Labels()))
	}
}

func TestDemoAnalyzer(t *testing.T) {
	d := NewDemo(demo.NewSequence(DemoResults...))
	for i, want := range DemoResults {
		got, err := d.Analyze(context.Background(), "")
		if err != nil {
			t.Fatalf("step %d err: %v", i, err)
		}
		if got != want {
			t.Fatalf("step %d got %+v want %+v", i, got, want)
		}
	}
}
