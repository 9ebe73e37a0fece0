package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/lokutor-ai/voicebridge/pkg/audio"
	"github.com/lokutor-ai/voicebridge/pkg/session"
)

// GroqClient is the cloud-fallback STT adapter, adapted from the
// teacher's pkg/providers/stt/groq.go to accept float32 wire PCM.
type GroqClient struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
}

func NewGroqClient(apiKey, model string, sampleRate int) *GroqClient {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &GroqClient{apiKey: apiKey, url: "https://api.groq.com/openai/v1/audio/transcriptions", model: model, sampleRate: sampleRate}
}

func (s *GroqClient) Name() string { return "groq-stt" }

// SetSampleRate lets the caller update the assumed input sample rate
// after construction, matching the teacher's mutable-field pattern.
func (s *GroqClient) SetSampleRate(rate int) { s.sampleRate = rate }

func (s *GroqClient) Transcribe(ctx context.Context, pcm []byte, lang session.Language) (string, error) {
	wavData := audio.NewWavBuffer(audio.Float32LEToInt16LE(pcm), s.sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", s.model); err != nil {
		return "", err
	}
	if lang != "" {
		if err := writer.WriteField("language", string(lang)); err != nil {
			return "", err
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wavData); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("groq stt error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}
