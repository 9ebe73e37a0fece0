// Package pipeline implements the waterfall: speech-to-text, streaming
// language-model completion, clause-level speech synthesis, and audio
// egress, with the barge-in buffer and interrupt state machine that
// bind them together. It is provider-agnostic: STT/LLM/TTS are
// injected as interfaces so the waterfall can run against either a
// local subprocess-backed model or a cloud fallback.
package pipeline

import (
	"context"

	"github.com/lokutor-ai/voicebridge/pkg/session"
)

// Logger is the dependency-injected structured logging sink used by this
// package and its providers. internal/logging adapts go.uber.org/zap to
// this interface for the binaries; tests use NoOpLogger.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. It is the Pipeline's default so callers
// never need a nil check.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, args ...interface{}) {}
func (NoOpLogger) Info(msg string, args ...interface{})  {}
func (NoOpLogger) Warn(msg string, args ...interface{})  {}
func (NoOpLogger) Error(msg string, args ...interface{}) {}

// STTProvider transcribes one finalized utterance.
type STTProvider interface {
	Transcribe(ctx context.Context, audio []byte, lang session.Language) (string, error)
	Name() string
}

// StreamingSTTProvider additionally supports incremental transcription
// fed chunk-by-chunk; not required by the waterfall itself (which
// transcribes whole utterances) but kept for providers that prefer it.
type StreamingSTTProvider interface {
	STTProvider
	StreamTranscribe(ctx context.Context, lang session.Language, onTranscript func(transcript string, isFinal bool) error) (chan<- []byte, error)
}

// LLMProvider generates one complete response for a message history.
type LLMProvider interface {
	Complete(ctx context.Context, messages []session.Message) (string, error)
	Name() string
}

// StreamingLLMProvider additionally streams text deltas as they are
// generated, which is what the waterfall needs for low time-to-first-audio.
type StreamingLLMProvider interface {
	LLMProvider
	// StreamComplete invokes onChunk once per text delta, in order, and
	// returns the fully accumulated response text once the stream ends.
	StreamComplete(ctx context.Context, messages []session.Message, onChunk func(chunk string) error) (string, error)
}

// TTSProvider synthesizes one clause of text to PCM. Abort is part of the
// contract (not a type-asserted afterthought) so barge-in cancellation
// always has somewhere to go.
type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice session.Voice, lang session.Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice session.Voice, lang session.Language, onChunk func([]byte) error) error
	Abort() error
	SampleRate() int
	Name() string
}

// EventType mirrors the server→client control-frame `type` values, plus
// three internal markers: AudioChunk for binary egress that never travels
// as a JSON control frame itself, and Interrupted and Error.
type EventType string

const (
	EventTranscription     EventType = "transcription"
	EventPartialLLMResponse EventType = "partial_llm_response"
	EventLLMResponse        EventType = "llm_response"
	EventTTSStart           EventType = "tts_start"
	EventTTSStop            EventType = "tts_stop"
	EventPlaybackStop       EventType = "playback_stop"
	EventAudioChunk         EventType = "__audio_chunk__"
	EventInterrupted        EventType = "__interrupted__"
	EventError              EventType = "__error__"
)

// Event is one item destined for a connection's egress queue. Text-bearing
// control events carry Text; AudioChunk events carry Audio.
type Event struct {
	Type  EventType
	Text  string
	Audio []byte
}

// Config bounds pipeline behavior. Durations are seconds unless noted.
type Config struct {
	MaxContextMessages  int
	MinClauseTokens     int // clause must exceed this many whitespace tokens to be synthesized
	STTTimeoutSeconds    uint
	LLMTimeoutSeconds    uint
	TTSTimeoutSeconds    uint
	BargeBufferCapacity int
	SystemPreamble      string
	StopKeywords        []string
}

// DefaultConfig matches spec.md §4.4/§4.5/§4.7/§6 defaults.
func DefaultConfig() Config {
	return Config{
		MaxContextMessages:  20, // N=10 turns => 20 messages
		MinClauseTokens:     3,
		STTTimeoutSeconds:   30,
		LLMTimeoutSeconds:   60,
		TTSTimeoutSeconds:   30,
		BargeBufferCapacity: 4,
		SystemPreamble:      "You are a helpful voice assistant. Keep responses concise.",
		StopKeywords:        []string{"stop", "pause", "shut up", "cancel", "quiet", "enough", "wait"},
	}
}
