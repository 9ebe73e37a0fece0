package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/voicebridge/pkg/session"
)

func TestDeepgramClientTranscribeSendsRawPCMAndParsesTranscript(t *testing.T) {
	var gotAuth, gotContentType, gotQuery string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"hello from deepgram"}]}]}}`))
	}))
	defer server.Close()

	c := NewDeepgramClient("test-key", 16000)
	c.url = server.URL

	pcm := make([]byte, 8)
	text, err := c.Transcribe(context.Background(), pcm, session.LanguageEn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello from deepgram" {
		t.Errorf("text = %q, want %q", text, "hello from deepgram")
	}
	if gotAuth != "Token test-key" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Token test-key")
	}
	if gotContentType != "audio/l16; rate=16000; channels=1" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if len(gotBody) != 4 {
		t.Errorf("body length = %d, want 4 (int16 PCM from 8 bytes of float32)", len(gotBody))
	}
	if gotQuery == "" {
		t.Error("expected non-empty query string")
	}
}

func TestDeepgramClientTranscribeNoAlternativesReturnsEmptyString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer server.Close()

	c := NewDeepgramClient("test-key", 16000)
	c.url = server.URL

	text, err := c.Transcribe(context.Background(), make([]byte, 8), session.LanguageEn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}
