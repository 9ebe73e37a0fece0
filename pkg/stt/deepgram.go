package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lokutor-ai/voicebridge/pkg/audio"
	"github.com/lokutor-ai/voicebridge/pkg/session"
)

// DeepgramClient is the cloud-fallback STT adapter, adapted from the
// teacher's pkg/providers/stt/deepgram.go to accept float32 wire PCM.
type DeepgramClient struct {
	apiKey     string
	url        string
	sampleRate int
}

func NewDeepgramClient(apiKey string, sampleRate int) *DeepgramClient {
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &DeepgramClient{apiKey: apiKey, url: "https://api.deepgram.com/v1/listen", sampleRate: sampleRate}
}

func (s *DeepgramClient) Name() string { return "deepgram-stt" }

func (s *DeepgramClient) Transcribe(ctx context.Context, pcm []byte, lang session.Language) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", err
	}

	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	if lang != "" {
		params.Set("language", string(lang))
	}
	u.RawQuery = params.Encode()

	int16PCM := audio.Float32LEToInt16LE(pcm)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(int16PCM))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d; channels=1", s.sampleRate))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("deepgram error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return result.Results.Channels[0].Alternatives[0].Transcript, nil
}
