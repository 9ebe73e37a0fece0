package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/voicebridge/pkg/session"
)

// OpenAIClient is the cloud-fallback LLM adapter, adapted from the
// teacher's pkg/providers/llm/openai.go.
type OpenAIClient struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIClient{apiKey: apiKey, url: "https://api.openai.com/v1/chat/completions", model: model}
}

func (l *OpenAIClient) Name() string { return "openai-llm" }

func (l *OpenAIClient) Complete(ctx context.Context, messages []session.Message) (string, error) {
	payload := map[string]interface{}{"model": l.model, "messages": messages}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("openai llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from openai")
	}
	return result.Choices[0].Message.Content, nil
}

// StreamComplete has no native streaming path for this cloud fallback;
// it runs Complete and delivers the whole response as a single chunk so
// the pipeline's waterfall still works end to end (spec.md §9: the
// cloud-fallback path is specified only at its event-schema boundary).
func (l *OpenAIClient) StreamComplete(ctx context.Context, messages []session.Message, onChunk func(chunk string) error) (string, error) {
	response, err := l.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	if response != "" {
		if err := onChunk(response); err != nil {
			return "", err
		}
	}
	return response, nil
}
