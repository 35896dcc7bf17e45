package speech

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	f, err := newAudioFrame([]byte("chunk"), 3, false)
	if err != nil {
		t.Fatalf("newAudioFrame err: %v", err)
	}

	decoded, err := decodeFrame(bytes.NewReader(encodeFrame(f)))
	if err != nil {
		t.Fatalf("decodeFrame err: %v", err)
	}
	if decoded.Header.Type != audioOnlyRequest {
		t.Errorf("type mismatch: got %v", decoded.Header.Type)
	}
	if decoded.Sequence != 3 {
		t.Errorf("sequence mismatch: got %d", decoded.Sequence)
	}
	if decoded.isLast() {
		t.Error("non-final frame reported as last")
	}

	body, err := decoded.body()
	if err != nil {
		t.Fatalf("body err: %v", err)
	}
	if string(body) != "chunk" {
		t.Errorf("payload mismatch: got %q", body)
	}
}

func TestLastAudioFrameUsesNegativeSequence(t *testing.T) {
	f, err := newAudioFrame([]byte("tail"), 7, true)
	if err != nil {
		t.Fatalf("newAudioFrame err: %v", err)
	}
	if f.Sequence != -7 {
		t.Fatalf("expected -7, got %d", f.Sequence)
	}

	decoded, err := decodeFrame(bytes.NewReader(encodeFrame(f)))
	if err != nil {
		t.Fatalf("decodeFrame err: %v", err)
	}
	if !decoded.isLast() {
		t.Fatal("expected last frame")
	}
}

func TestDecodeErrorFrame(t *testing.T) {
	f := &frame{
		Header:    newHeader(serverError, flagNoSequence, serializeJSON, compressNone),
		ErrorCode: 45000001,
		Payload:   []byte(`{"error":"bad audio"}`),
	}

	decoded, err := decodeFrame(bytes.NewReader(encodeFrame(f)))
	if err != nil {
		t.Fatalf("decodeFrame err: %v", err)
	}
	if decoded.ErrorCode != 45000001 {
		t.Errorf("error code mismatch: got %d", decoded.ErrorCode)
	}
	if string(decoded.Payload) != `{"error":"bad audio"}` {
		t.Errorf("payload mismatch: got %q", decoded.Payload)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	data := []byte{0x21, 0x10, 0x10, 0x00, 0, 0, 0, 0}
	if _, err := decodeFrame(bytes.NewReader(data)); err == nil {
		t.Fatal("expected version error")
	}
}

func TestGzipRoundTrip(t *testing.T) {
	data := []byte("今日は仕事がすごく忙しくて、会議が3つも続いて疲れました")
	compressed, err := gzipBytes(data)
	if err != nil {
		t.Fatalf("gzipBytes err: %v", err)
	}
	out, err := gunzipBytes(compressed)
	if err != nil {
		t.Fatalf("gunzipBytes err: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("round trip mismatch: %q", out)
	}
}
