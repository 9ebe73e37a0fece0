// Package llm provides the streaming language-model client that drives
// the waterfall pipeline's completion step, plus cloud-fallback adapters
// sharing the same pipeline.StreamingLLMProvider contract.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/session"
)

const (
	maxRetries   = 3
	retryDelay   = 1 * time.Second
	doneSentinel = "[DONE]"
)

// LocalClient talks to the local llama.cpp-style subprocess's
// OpenAI-compatible streaming chat-completion endpoint, grounded on
// original_source/server/inference/llm_client.py's stream_completion.
type LocalClient struct {
	endpoint string
	client   *http.Client
}

// NewLocalClient builds a client against the subprocess supervisor's
// endpoint (e.g. http://127.0.0.1:8088/v1/chat/completions).
func NewLocalClient(endpoint string, timeout time.Duration) *LocalClient {
	return &LocalClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *LocalClient) Name() string { return "local-llm" }

// Complete collects a StreamComplete run into a single string, for
// callers that only need the final text.
func (c *LocalClient) Complete(ctx context.Context, messages []session.Message) (string, error) {
	return c.StreamComplete(ctx, messages, func(string) error { return nil })
}

// StreamComplete POSTs a streaming chat-completion request and invokes
// onChunk once per text delta parsed from `data: {json}` SSE lines,
// stopping at the `data: [DONE]` sentinel. Connect/timeout errors are
// retried up to maxRetries times with linear backoff (original_source's
// MAX_RETRIES/RETRY_DELAY); HTTP status errors do not retry.
func (c *LocalClient) StreamComplete(ctx context.Context, messages []session.Message, onChunk func(chunk string) error) (string, error) {
	payload := map[string]interface{}{
		"messages": messages,
		"stream":   true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		accumulated, err := c.attempt(ctx, body, onChunk)
		if err == nil {
			return accumulated, nil
		}
		if !isRetryable(err) {
			return "", err
		}
		lastErr = err
		if attempt < maxRetries {
			select {
			case <-time.After(time.Duration(attempt) * retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("llm request failed after %d attempts: %w", maxRetries, lastErr)
}

type retryableError struct{ err error }

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

func isRetryable(err error) bool {
	_, ok := err.(*retryableError)
	return ok
}

func (c *LocalClient) attempt(ctx context.Context, body []byte, onChunk func(chunk string) error) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &retryableError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm http error (status %d)", resp.StatusCode)
	}

	var accumulated strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == doneSentinel {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		accumulated.WriteString(delta)
		if err := onChunk(delta); err != nil {
			return accumulated.String(), err
		}
	}
	if err := scanner.Err(); err != nil {
		return accumulated.String(), &retryableError{err}
	}

	return accumulated.String(), nil
}
