package tts

import (
	"context"
	"fmt"
	"strings"

	"github.com/lokutor-ai/voicebridge/pkg/session"
)

// SynthFunc runs a loaded neural TTS model over text and returns mono
// float32 PCM samples in [-1, 1]. The model itself is out of scope; this
// package is written against the function so a real Kokoro-style binding
// can be injected without touching the surrounding adapter logic, the
// same pattern used by stt.InferenceFunc and segmenter.SpeechProber.
type SynthFunc func(ctx context.Context, text string, voice session.Voice, lang session.Language) ([]float32, error)

// InProcessSynth wraps an in-process neural model (kokoro-style),
// grounded on original_source/server/inference/kokoro_tts.py's
// synthesize(): float32 output clamped and scaled to int16 PCM.
type InProcessSynth struct {
	synth      SynthFunc
	sampleRate int
}

// NewInProcessSynth builds an InProcessSynth at the model's native
// output rate (24000Hz for Kokoro-82M).
func NewInProcessSynth(synth SynthFunc, sampleRate int) *InProcessSynth {
	if sampleRate == 0 {
		sampleRate = 24000
	}
	return &InProcessSynth{synth: synth, sampleRate: sampleRate}
}

func (s *InProcessSynth) Name() string    { return "inprocess-tts" }
func (s *InProcessSynth) SampleRate() int { return s.sampleRate }

func (s *InProcessSynth) Synthesize(ctx context.Context, text string, voice session.Voice, lang session.Language) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	samples, err := s.synth(ctx, text, voice, lang)
	if err != nil {
		return nil, fmt.Errorf("in-process synthesis failed: %w", err)
	}
	if len(samples) == 0 {
		return nil, nil
	}
	return float32ToInt16LE(samples), nil
}

// StreamSynthesize has no incremental decode step in the injected
// SynthFunc contract, so the whole utterance is produced and delivered
// as a single chunk, matching kokoro_tts.py which also concatenates its
// generator's output before returning.
func (s *InProcessSynth) StreamSynthesize(ctx context.Context, text string, voice session.Voice, lang session.Language, onChunk func([]byte) error) error {
	pcm, err := s.Synthesize(ctx, text, voice, lang)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}
	return onChunk(pcm)
}

// Abort is a no-op: synthesis runs synchronously inside Synthesize with
// no separate in-flight handle to cancel beyond the caller's context.
func (s *InProcessSynth) Abort() error { return nil }

func float32ToInt16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 1 {
			f = 1
		}
		if f < -1 {
			f = -1
		}
		v := int16(f * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
