package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxbridge-ai/voxbridge/pkg/provider/tts"
)

func TestSynthesize_StreamsULawBody(t *testing.T) {
	audio := bytes.Repeat([]byte{0x7F}, 480)

	var gotPath, gotKey, gotFormat string
	var gotReq synthesisRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotFormat = r.URL.Query().Get("output_format")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode synthesis body: %v", err)
		}
		w.Write(audio)
	}))
	defer srv.Close()

	p, err := New("el-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stream, err := p.Synthesize(context.Background(), "Hola, le atiende Ana.", tts.Voice{
		ID:    "voice-123",
		Model: "eleven_flash_v2_5",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	defer stream.Close()

	got, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("stream = %d bytes, want the synthesized body back", len(got))
	}

	if gotPath != "/v1/text-to-speech/voice-123/stream" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "el-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotFormat != "ulaw_8000" {
		t.Errorf("output_format = %q", gotFormat)
	}
	if gotReq.Text != "Hola, le atiende Ana." {
		t.Errorf("text = %q", gotReq.Text)
	}
	if gotReq.ModelID != "eleven_flash_v2_5" {
		t.Errorf("model = %q", gotReq.ModelID)
	}
	if gotReq.VoiceSettings == nil || gotReq.VoiceSettings.Stability != 0.5 {
		t.Errorf("voice settings = %+v", gotReq.VoiceSettings)
	}
}

func TestSynthesize_EmptyModelFallsBackToDefault(t *testing.T) {
	var gotReq synthesisRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte{0x7F})
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	stream, err := p.Synthesize(context.Background(), "hola", tts.Voice{ID: "v"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	stream.Close()

	if gotReq.ModelID != defaultModel {
		t.Errorf("model = %q, want default", gotReq.ModelID)
	}
}

func TestSynthesize_RequiresVoiceID(t *testing.T) {
	p, _ := New("k")
	if _, err := p.Synthesize(context.Background(), "hola", tts.Voice{}); err == nil {
		t.Fatal("empty voice ID accepted")
	}
}

func TestSynthesize_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "hola", tts.Voice{ID: "v"}); err == nil {
		t.Fatal("Synthesize on 429 returned nil error")
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("empty API key accepted")
	}
}
