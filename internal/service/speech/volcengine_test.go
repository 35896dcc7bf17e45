package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeASRServer 模拟火山引擎识别服务：收完音频后返回一帧最终结果。
func fakeASRServer(t *testing.T, reply func(chunks int) *frame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-App-Key") != "app" || r.Header.Get("X-Api-Access-Key") != "token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		first, err := decodeFrame(bytes.NewReader(data))
		if err != nil || first.Header.Type != fullClientRequest {
			t.Errorf("expected config frame, got %+v err=%v", first, err)
			return
		}
		body, _ := first.body()
		var req asrRequest
		if err := json.Unmarshal(body, &req); err != nil || req.Audio.Language != "ja-JP" {
			t.Errorf("unexpected request payload %s", body)
		}

		chunks := 0
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := decodeFrame(bytes.NewReader(data))
			if err != nil {
				t.Errorf("decode audio frame: %v", err)
				return
			}
			chunks++
			if f.isLast() {
				break
			}
		}

		_ = conn.WriteMessage(websocket.BinaryMessage, encodeFrame(reply(chunks)))
	}))
}

func finalResponse(t *testing.T, payload any) *frame {
	t.Helper()
	raw, _ := json.Marshal(payload)
	compressed, err := gzipBytes(raw)
	if err != nil {
		t.Fatalf("gzipBytes err: %v", err)
	}
	return &frame{
		Header:   newHeader(fullServerResponse, flagNegativeSequence, serializeJSON, compressGzip),
		Sequence: -1,
		Payload:  compressed,
	}
}

func newTestTranscriber(t *testing.T, server *httptest.Server) *VolcengineTranscriber {
	t.Helper()
	tr, err := NewVolcengineTranscriber(VolcengineConfig{
		AppID:         "app",
		AccessToken:   "token",
		Language:      "ja-JP",
		Endpoint:      "ws" + strings.TrimPrefix(server.URL, "http"),
		ChunkSize:     4,
		ChunkInterval: -1,
		Timeout:       5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewVolcengineTranscriber err: %v", err)
	}
	return tr
}

func TestVolcengineTranscribe(t *testing.T) {
	var gotChunks int
	server := fakeASRServer(t, func(chunks int) *frame {
		gotChunks = chunks
		return finalResponse(t, map[string]any{
			"code": 20000000,
			"result": map[string]any{
				"utterances": []map[string]any{
					{"text": "今日は", "definite": true},
					{"text": "疲れました", "definite": true},
				},
			},
		})
	})
	defer server.Close()

	text, err := newTestTranscriber(t, server).Transcribe(context.Background(), []byte("0123456789"), "audio/wav")
	if err != nil {
		t.Fatalf("Transcribe err: %v", err)
	}
	if text != "今日は疲れました" {
		t.Fatalf("unexpected text %q", text)
	}
	if gotChunks != 3 {
		t.Fatalf("expected 3 audio chunks, got %d", gotChunks)
	}
}

func TestVolcengineTranscribeAPIError(t *testing.T) {
	server := fakeASRServer(t, func(int) *frame {
		return finalResponse(t, map[string]any{"code": 45000002, "message": "empty audio"})
	})
	defer server.Close()

	_, err := newTestTranscriber(t, server).Transcribe(context.Background(), []byte("abc"), "audio/wav")
	if err == nil || !strings.Contains(err.Error(), "45000002") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestVolcengineRejectsUnsupportedFormat(t *testing.T) {
	tr, err := NewVolcengineTranscriber(VolcengineConfig{AppID: "app", AccessToken: "token"})
	if err != nil {
		t.Fatalf("NewVolcengineTranscriber err: %v", err)
	}
	_, err = tr.Transcribe(context.Background(), []byte("abc"), "audio/m4a")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestVolcengineRequiresCredentials(t *testing.T) {
	if _, err := NewVolcengineTranscriber(VolcengineConfig{AppID: "app"}); err == nil {
		t.Fatal("expected credential error")
	}
}
