// Package tts provides text-to-speech adapters implementing
// pipeline.TTSProvider: a subprocess-per-call synthesizer, an in-process
// model-backed synthesizer, and a cloud-fallback streaming adapter.
package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/session"
)

const (
	subprocessMaxRetries = 2
	subprocessRetryDelay = 500 * time.Millisecond
)

// SubprocessSynth shells out to a command-line synthesizer (piper-style)
// once per call, retrying on nonzero exit, grounded on
// original_source/server/inference/piper_tts.py's synthesize().
type SubprocessSynth struct {
	exePath   string
	modelPath string
	sampleRate int

	mu      sync.Mutex
	current *exec.Cmd
}

// NewSubprocessSynth validates the executable and model exist before
// returning, mirroring piper_tts.py's _validate_installation.
func NewSubprocessSynth(exePath, modelPath string, sampleRate int) (*SubprocessSynth, error) {
	if _, err := os.Stat(exePath); err != nil {
		return nil, fmt.Errorf("tts executable not found: %s", exePath)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("tts model not found: %s", modelPath)
	}
	return &SubprocessSynth{exePath: exePath, modelPath: modelPath, sampleRate: sampleRate}, nil
}

func (s *SubprocessSynth) Name() string    { return "subprocess-tts" }
func (s *SubprocessSynth) SampleRate() int { return s.sampleRate }

func (s *SubprocessSynth) Synthesize(ctx context.Context, text string, voice session.Voice, lang session.Language) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var lastErr error
	for attempt := 1; attempt <= subprocessMaxRetries; attempt++ {
		out, err := s.runOnce(ctx, text)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt < subprocessMaxRetries {
			select {
			case <-time.After(subprocessRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("subprocess tts failed after %d attempts: %w", subprocessMaxRetries, lastErr)
}

func (s *SubprocessSynth) runOnce(ctx context.Context, text string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.exePath, "--model", s.modelPath, "--output_raw")
	cmd.Stdin = strings.NewReader(text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.mu.Lock()
	s.current = cmd
	s.mu.Unlock()

	err := cmd.Run()

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("subprocess tts produced no output")
	}
	return stdout.Bytes(), nil
}

// StreamSynthesize has no incremental output from the underlying
// command-line tool (it writes its full raw PCM payload only after
// exit), so the whole clause is synthesized and delivered as one chunk.
func (s *SubprocessSynth) StreamSynthesize(ctx context.Context, text string, voice session.Voice, lang session.Language, onChunk func([]byte) error) error {
	pcm, err := s.Synthesize(ctx, text, voice, lang)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}
	return onChunk(pcm)
}

// Abort kills the in-flight subprocess, if any, so a barge-in can stop
// mid-utterance rather than waiting for the process to exit naturally.
func (s *SubprocessSynth) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.Process == nil {
		return nil
	}
	return s.current.Process.Kill()
}
