package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func sseHandler(lines []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n", line)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func TestLocalClientStreamCompleteParsesSSEDeltasUntilDone(t *testing.T) {
	server := httptest.NewServer(sseHandler([]string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo, "}}]}`,
		`{"choices":[{"delta":{"content":"world"}}]}`,
		`[DONE]`,
	}))
	defer server.Close()

	c := NewLocalClient(server.URL, 5*time.Second)
	var got string
	resp, err := c.StreamComplete(context.Background(), nil, func(chunk string) error {
		got += chunk
		return nil
	})
	if err != nil {
		t.Fatalf("StreamComplete() error = %v", err)
	}
	if resp != "Hello, world" || got != "Hello, world" {
		t.Fatalf("resp=%q got=%q, want %q", resp, got, "Hello, world")
	}
}

func TestLocalClientHTTPStatusErrorDoesNotRetry(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewLocalClient(server.URL, 5*time.Second)
	_, err := c.StreamComplete(context.Background(), nil, func(string) error { return nil })
	if err == nil {
		t.Fatal("StreamComplete() error = nil, want an error for a 500 response")
	}
	if calls != 1 {
		t.Fatalf("server received %d calls, want exactly 1 (HTTP status errors do not retry)", calls)
	}
}

func TestLocalClientConnectErrorIsRetried(t *testing.T) {
	// An address nothing listens on forces a connect error on every
	// attempt; we just verify StreamComplete eventually gives up rather
	// than retrying forever, and that it reports failure.
	c := NewLocalClient("http://127.0.0.1:1", 200*time.Millisecond)
	start := time.Now()
	_, err := c.StreamComplete(context.Background(), nil, func(string) error { return nil })
	if err == nil {
		t.Fatal("StreamComplete() error = nil, want an error after exhausting retries")
	}
	if time.Since(start) < retryDelay {
		t.Fatalf("StreamComplete() returned too quickly (%v), want at least one retry backoff", time.Since(start))
	}
}
