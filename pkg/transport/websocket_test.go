package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestWebSocketChannelSendBinaryAndRecv(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3})
	}))
	defer server.Close()

	ch, err := Dial(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	frame, err := ch.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if frame.Type != FrameBinary {
		t.Errorf("frame.Type = %v, want FrameBinary", frame.Type)
	}
	if len(frame.Data) != 3 {
		t.Errorf("len(frame.Data) = %d, want 3", len(frame.Data))
	}
}

func TestWebSocketChannelSendText(t *testing.T) {
	received := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		received <- string(data)
	}))
	defer server.Close()

	ch, err := Dial(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	if err := ch.SendText(context.Background(), `{"type":"hello"}`); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	select {
	case got := <-received:
		if got != `{"type":"hello"}` {
			t.Errorf("received = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive text frame")
	}
}
