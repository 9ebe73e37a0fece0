package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/voicebridge/pkg/session"
)

// GroqClient is the cloud-fallback LLM adapter for Groq's
// OpenAI-compatible chat-completions endpoint. Reconstructed from the
// teacher's pkg/providers/llm/groq_test.go (the only surviving trace of
// a groq.go in the teacher tree) following openai.go's request/response
// shape, since Groq serves the same chat-completions contract.
type GroqClient struct {
	apiKey string
	url    string
	model  string
}

func NewGroqClient(apiKey, model string) *GroqClient {
	if model == "" {
		model = "llama3-70b"
	}
	return &GroqClient{apiKey: apiKey, url: "https://api.groq.com/openai/v1/chat/completions", model: model}
}

func (l *GroqClient) Name() string { return "groq-llm" }

func (l *GroqClient) Complete(ctx context.Context, messages []session.Message) (string, error) {
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
		return "", fmt.Errorf("groq llm error (status %d): %v", resp.StatusCode, errResp)
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
		return "", fmt.Errorf("no choices returned from groq")
	}
	return result.Choices[0].Message.Content, nil
}

func (l *GroqClient) StreamComplete(ctx context.Context, messages []session.Message, onChunk func(chunk string) error) (string, error) {
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
