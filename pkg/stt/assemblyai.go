package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/audio"
	"github.com/lokutor-ai/voicebridge/pkg/session"
)

// AssemblyAIClient is the cloud-fallback STT adapter, adapted from the
// teacher's pkg/providers/stt/assemblyai.go upload/submit/poll flow.
type AssemblyAIClient struct {
	apiKey     string
	baseURL    string
	sampleRate int
	pollEvery  time.Duration
}

func NewAssemblyAIClient(apiKey string, sampleRate int) *AssemblyAIClient {
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &AssemblyAIClient{
		apiKey:     apiKey,
		baseURL:    "https://api.assemblyai.com/v2",
		sampleRate: sampleRate,
		pollEvery:  500 * time.Millisecond,
	}
}

func (s *AssemblyAIClient) Name() string { return "assemblyai-stt" }

func (s *AssemblyAIClient) Transcribe(ctx context.Context, pcm []byte, lang session.Language) (string, error) {
	wavData := audio.NewWavBuffer(audio.Float32LEToInt16LE(pcm), s.sampleRate)

	uploadURL, err := s.upload(ctx, wavData)
	if err != nil {
		return "", fmt.Errorf("assemblyai upload failed: %w", err)
	}

	transcriptID, err := s.submit(ctx, uploadURL, lang)
	if err != nil {
		return "", fmt.Errorf("assemblyai submit failed: %w", err)
	}

	return s.poll(ctx, transcriptID)
}

func (s *AssemblyAIClient) upload(ctx context.Context, wavData []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/upload", bytes.NewReader(wavData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.UploadURL, nil
}

func (s *AssemblyAIClient) submit(ctx context.Context, audioURL string, lang session.Language) (string, error) {
	payload := map[string]any{"audio_url": audioURL}
	if lang != "" {
		payload["language_code"] = string(lang)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.ID, nil
}

func (s *AssemblyAIClient) getTranscript(ctx context.Context, id string) (status, text string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/transcript/"+id, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Status string `json:"status"`
		Text   string `json:"text"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", err
	}
	if result.Status == "error" {
		return result.Status, "", fmt.Errorf("assemblyai transcription error: %s", result.Error)
	}
	return result.Status, result.Text, nil
}

func (s *AssemblyAIClient) poll(ctx context.Context, id string) (string, error) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		status, text, err := s.getTranscript(ctx, id)
		if err != nil {
			return "", err
		}
		if status == "completed" {
			return text, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
