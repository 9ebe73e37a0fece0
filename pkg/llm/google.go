package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/voicebridge/pkg/session"
)

// GoogleClient is the cloud-fallback LLM adapter, adapted from the
// teacher's pkg/providers/llm/google.go.
type GoogleClient struct {
	apiKey string
	url    string
	model  string
}

func NewGoogleClient(apiKey, model string) *GoogleClient {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GoogleClient{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		model:  model,
	}
}

func (l *GoogleClient) Name() string { return "google-llm" }

func (l *GoogleClient) Complete(ctx context.Context, messages []session.Message) (string, error) {
	type part struct {
		Text string `json:"text"`
	}
	type googleMessage struct {
		Role  string `json:"role"`
		Parts []part `json:"parts"`
	}

	var googleMessages []googleMessage
	for _, m := range messages {
		role := m.Role
		if role == session.RoleSystem {
			role = "user" // Gemini doesn't handle a distinct system role uniformly
		}
		if role == session.RoleAssistant {
			role = "model"
		}
		googleMessages = append(googleMessages, googleMessage{Role: role, Parts: []part{{Text: m.Content}}})
	}

	payload := map[string]interface{}{"contents": googleMessages}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url+"?key="+l.apiKey, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("google llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []part `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from google llm")
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}

func (l *GoogleClient) StreamComplete(ctx context.Context, messages []session.Message, onChunk func(chunk string) error) (string, error) {
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
