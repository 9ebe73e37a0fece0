// Package stt provides the speech-to-text adapters the waterfall
// pipeline drives: a local model-backed transcriber and cloud-fallback
// REST adapters sharing the pipeline.STTProvider contract.
package stt

import (
	"context"
	"fmt"
	"math"

	"github.com/lokutor-ai/voicebridge/pkg/session"
)

// InferenceFunc runs a loaded speech model over mono float32 samples and
// returns its best transcript. The model weights themselves are out of
// scope; this package is written against the function so a real
// faster-whisper-style binding can be injected without touching the
// worker-pool/conversion logic.
type InferenceFunc func(ctx context.Context, samples []float32, lang session.Language) (string, error)

// Local wraps InferenceFunc with a bounded worker pool so CPU-bound
// inference never blocks more than maxWorkers transcriptions at once,
// grounded on original_source/server/inference/whisper_stt.py's
// ThreadPoolExecutor(max_workers=2) (spec.md §5: "2 workers typical for STT").
type Local struct {
	infer   InferenceFunc
	workers chan struct{}
}

// NewLocal builds a Local transcriber with the given worker-pool size.
func NewLocal(infer InferenceFunc, maxWorkers int) *Local {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	return &Local{infer: infer, workers: make(chan struct{}, maxWorkers)}
}

func (l *Local) Name() string { return "local-stt" }

func (l *Local) Transcribe(ctx context.Context, pcm []byte, lang session.Language) (string, error) {
	select {
	case l.workers <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-l.workers }()

	samples := bytesToFloat32(pcm)
	text, err := l.infer(ctx, samples, lang)
	if err != nil {
		return "", fmt.Errorf("local transcription failed: %w", err)
	}
	return text, nil
}

func bytesToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(pcm[i*4]) | uint32(pcm[i*4+1])<<8 | uint32(pcm[i*4+2])<<16 | uint32(pcm[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
