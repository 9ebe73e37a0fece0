package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/voicebridge/pkg/session"
)

func TestLokutorClientStreamSynthesizeDeliversChunksUntilEOS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}

		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3})
		conn.Write(r.Context(), websocket.MessageBinary, []byte{4, 5, 6})
		conn.Write(r.Context(), websocket.MessageText, []byte("EOS"))
	}))
	defer server.Close()

	c := NewLokutorClient("test-key", server.URL)

	var audio []byte
	err := c.StreamSynthesize(context.Background(), "hello", session.VoiceF1, session.LanguageEn, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(audio) != 6 {
		t.Errorf("len(audio) = %d, want 6", len(audio))
	}
	if c.Name() != "lokutor-tts" {
		t.Errorf("Name() = %q", c.Name())
	}

	c.Close()
}

func TestLokutorClientStreamSynthesizePropagatesErrMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		conn.Write(r.Context(), websocket.MessageText, []byte("ERR:bad voice"))
	}))
	defer server.Close()

	c := NewLokutorClient("test-key", server.URL)
	defer c.Close()

	err := c.StreamSynthesize(context.Background(), "hello", session.VoiceF1, session.LanguageEn, func(chunk []byte) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestLokutorClientAbortCancelsInFlightStream(t *testing.T) {
	blockUntilClosed := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		<-blockUntilClosed
	}))
	defer server.Close()
	defer close(blockUntilClosed)

	c := NewLokutorClient("test-key", server.URL)
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		done <- c.StreamSynthesize(context.Background(), "hello", session.VoiceF1, session.LanguageEn, func(chunk []byte) error {
			return nil
		})
	}()

	// give the goroutine time to dial and issue the blocking read
	time.Sleep(50 * time.Millisecond)
	if err := c.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	if err := <-done; err != nil {
		t.Errorf("StreamSynthesize after Abort = %v, want nil", err)
	}
}
