package pipeline

import "errors"

var (
	// ErrEmptyTranscript is returned (not treated as fatal) when STT yields
	// no text; the round is silently abandoned.
	ErrEmptyTranscript = errors.New("transcription returned empty text")

	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")

	ErrLLMFailed = errors.New("language model generation failed")

	ErrTTSFailed = errors.New("text-to-speech synthesis failed")

	ErrNilProvider = errors.New("required provider is nil")

	ErrBargeBufferFull = errors.New("barge-in buffer full, utterance dropped")
)
