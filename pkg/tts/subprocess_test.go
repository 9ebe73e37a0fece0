package tts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lokutor-ai/voicebridge/pkg/session"
)

func writeFakePiper(t *testing.T, dir string, exitCode int, output string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-piper.sh")
	script := "#!/bin/sh\ncat >/dev/null\n"
	if output != "" {
		script += "printf '" + output + "'\n"
	}
	script += "exit " + itoa(exitCode) + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestSubprocessSynthSuccess(t *testing.T) {
	dir := t.TempDir()
	exe := writeFakePiper(t, dir, 0, "RAWPCM")

	modelPath := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(modelPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := NewSubprocessSynth(exe, modelPath, 22050)
	if err != nil {
		t.Fatalf("NewSubprocessSynth: %v", err)
	}

	pcm, err := s.Synthesize(context.Background(), "hello world", session.VoiceF1, session.LanguageEn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(pcm) != "RAWPCM" {
		t.Errorf("pcm = %q, want %q", string(pcm), "RAWPCM")
	}
}

func TestSubprocessSynthEmptyTextSkipsExec(t *testing.T) {
	dir := t.TempDir()
	exe := writeFakePiper(t, dir, 1, "")
	modelPath := filepath.Join(dir, "model.onnx")
	os.WriteFile(modelPath, []byte("x"), 0o644)

	s, err := NewSubprocessSynth(exe, modelPath, 22050)
	if err != nil {
		t.Fatalf("NewSubprocessSynth: %v", err)
	}

	pcm, err := s.Synthesize(context.Background(), "   ", session.VoiceF1, session.LanguageEn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pcm != nil {
		t.Errorf("pcm = %v, want nil", pcm)
	}
}

func TestSubprocessSynthRetriesThenFails(t *testing.T) {
	dir := t.TempDir()
	exe := writeFakePiper(t, dir, 1, "")
	modelPath := filepath.Join(dir, "model.onnx")
	os.WriteFile(modelPath, []byte("x"), 0o644)

	s, err := NewSubprocessSynth(exe, modelPath, 22050)
	if err != nil {
		t.Fatalf("NewSubprocessSynth: %v", err)
	}

	_, err = s.Synthesize(context.Background(), "hello", session.VoiceF1, session.LanguageEn)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestNewSubprocessSynthMissingExecutableErrors(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.onnx")
	os.WriteFile(modelPath, []byte("x"), 0o644)

	_, err := NewSubprocessSynth(filepath.Join(dir, "missing"), modelPath, 22050)
	if err == nil {
		t.Fatal("expected error for missing executable")
	}
}
