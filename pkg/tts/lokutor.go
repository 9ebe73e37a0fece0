package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/voicebridge/pkg/session"
)

// LokutorClient is the cloud-fallback streaming TTS adapter, adapted
// from team-hashing-lokutor-orchestrator/pkg/providers/tts/lokutor.go's
// lazy-dial-then-stream connection handling.
type LokutorClient struct {
	apiKey string
	host   string

	mu   sync.Mutex
	conn *websocket.Conn

	streamMu   sync.Mutex
	streamCtx  context.Context
	streamDone context.CancelFunc
}

// NewLokutorClient takes host as a full scheme+host base (e.g.
// "wss://api.lokutor.com" in production, "http://127.0.0.1:port" in
// tests) since coder/websocket dials ws/wss and http/https alike.
func NewLokutorClient(apiKey, host string) *LokutorClient {
	if host == "" {
		host = "wss://api.lokutor.com"
	}
	return &LokutorClient{apiKey: apiKey, host: host}
}

func (c *LokutorClient) Name() string    { return "lokutor-tts" }
func (c *LokutorClient) SampleRate() int { return 24000 }

func (c *LokutorClient) getConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := websocket.Dial(ctx, c.host+"/v1/tts/stream", &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Authorization": {"Bearer " + c.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("lokutor dial failed: %w", err)
	}
	c.conn = conn
	return conn, nil
}

type lokutorRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Lang  string `json:"lang"`
}

func (c *LokutorClient) Synthesize(ctx context.Context, text string, voice session.Voice, lang session.Language) ([]byte, error) {
	var out []byte
	err := c.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		out = append(out, chunk...)
		return nil
	})
	return out, err
}

func (c *LokutorClient) StreamSynthesize(ctx context.Context, text string, voice session.Voice, lang session.Language, onChunk func([]byte) error) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	conn, err := c.getConn(ctx)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	c.streamMu.Lock()
	c.streamCtx = streamCtx
	c.streamDone = cancel
	c.streamMu.Unlock()
	defer func() {
		cancel()
		c.streamMu.Lock()
		c.streamCtx, c.streamDone = nil, nil
		c.streamMu.Unlock()
	}()

	req := lokutorRequest{Text: text, Voice: string(voice), Lang: string(lang)}
	if err := wsjson.Write(streamCtx, conn, req); err != nil {
		return fmt.Errorf("lokutor write failed: %w", err)
	}

	for {
		msgType, data, err := conn.Read(streamCtx)
		if err != nil {
			if errors.Is(streamCtx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("lokutor read failed: %w", err)
		}

		switch msgType {
		case websocket.MessageBinary:
			if err := onChunk(data); err != nil {
				return err
			}
		case websocket.MessageText:
			text := string(data)
			if text == "EOS" {
				return nil
			}
			if strings.HasPrefix(text, "ERR:") {
				return fmt.Errorf("lokutor synthesis error: %s", strings.TrimPrefix(text, "ERR:"))
			}
		}
	}
}

// Abort cancels the in-flight stream's context, unblocking the pending
// conn.Read in StreamSynthesize so a barge-in stops playback generation
// immediately instead of waiting for EOS. The teacher's ManagedStream
// calls tts.Abort() unconditionally on interrupt even though the
// teacher's own TTSProvider interface never declared the method; here
// it is part of the contract from the start (see DESIGN.md).
func (c *LokutorClient) Abort() error {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.streamDone != nil {
		c.streamDone()
	}
	return nil
}

func (c *LokutorClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	return err
}
