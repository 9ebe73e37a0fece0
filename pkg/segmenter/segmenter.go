// Package segmenter converts a continuous float32 PCM stream into
// discrete utterance byte blobs, bounded in duration, started with
// pre-roll, and robust to self-echo while the assistant is speaking.
// It is a direct translation of the fixed-512-sample-window state
// machine in original_source/server/core/vad.py.
package segmenter

import (
	"fmt"
	"time"
)

// State mirrors the Python VADState enum.
type State string

const (
	StateIdle               State = "idle"
	StateSpeech             State = "speech"
	StateSilenceAfterSpeech State = "silence_after_speech"
)

const bytesPerSample = 4 // float32 LE

// Config bounds the segmenter's behavior. Durations are in seconds
// except where noted; all default values match spec.md §4.3.
type Config struct {
	SampleRate          int
	WindowSamples       int     // fixed VAD window, 512 at 16kHz
	SpeechThreshold     float64 // base threshold before TTS-active inflation
	SilenceFramesReq    int     // consecutive silent windows to end an utterance (~320ms)
	MinUtteranceSeconds float64
	MaxUtteranceSeconds float64
	PreRollSeconds      float64 // pre-trigger audio retained ahead of speech onset
}

// DefaultConfig returns the spec.md §4.3 defaults for 16kHz float32 PCM.
func DefaultConfig() Config {
	return Config{
		SampleRate:          16000,
		WindowSamples:       512,
		SpeechThreshold:     0.5,
		SilenceFramesReq:    10, // ~320ms at 512 samples/32ms per window
		MinUtteranceSeconds: 0.5,
		MaxUtteranceSeconds: 12.0,
		PreRollSeconds:      0.5,
	}
}

// Segmenter is not safe for concurrent use; one instance per connection,
// fed serially from the process task (spec.md §4.2).
type Segmenter struct {
	cfg   Config
	prber SpeechProber

	state           State
	streamingBuffer []byte
	utteranceBuffer []byte
	silenceFrames   int
	bytesPerWindow  int
	maxPreRollBytes int
}

// New constructs a Segmenter. prober must consume cfg.WindowSamples
// samples per call; if nil, an EnergyProber is used.
func New(cfg Config, prober SpeechProber) *Segmenter {
	if prober == nil {
		prober = NewEnergyProber(cfg.WindowSamples)
	}
	return &Segmenter{
		cfg:             cfg,
		prber:           prober,
		state:           StateIdle,
		bytesPerWindow:  cfg.WindowSamples * bytesPerSample,
		maxPreRollBytes: int(cfg.PreRollSeconds*float64(cfg.SampleRate)) * bytesPerSample,
	}
}

// Utterance is a finalized speech segment, pre-roll included.
type Utterance struct {
	PCM      []byte
	Duration time.Duration
}

// Process appends chunk to the streaming buffer and runs the VAD window
// loop. ttsActive raises the effective speech threshold by 1.5x (clamped
// to 0.9) to suppress self-echo while the assistant is talking (spec.md
// §4.3 step 2). At most one utterance is emitted per call; any remaining
// windows stay buffered for the next call.
func (s *Segmenter) Process(chunk []byte, ttsActive bool) (*Utterance, error) {
	s.streamingBuffer = append(s.streamingBuffer, chunk...)

	threshold := s.cfg.SpeechThreshold
	if ttsActive {
		threshold *= 1.5
		if threshold > 0.9 {
			threshold = 0.9
		}
	}

	for len(s.streamingBuffer) >= s.bytesPerWindow {
		window := s.streamingBuffer[:s.bytesPerWindow]
		s.streamingBuffer = s.streamingBuffer[s.bytesPerWindow:]

		prob, err := s.prber.Predict(window)
		if err != nil {
			return nil, fmt.Errorf("segmenter: speech probability: %w", err)
		}

		if u := s.stepWindow(window, prob, threshold); u != nil {
			return u, nil
		}
	}

	return nil, nil
}

func (s *Segmenter) stepWindow(window []byte, prob, threshold float64) *Utterance {
	speech := prob >= threshold

	switch s.state {
	case StateIdle:
		if speech {
			s.truncatePreRoll()
			s.state = StateSpeech
			s.silenceFrames = 0
			s.utteranceBuffer = append(s.utteranceBuffer, window...)
		} else {
			s.utteranceBuffer = append(s.utteranceBuffer, window...)
			s.truncatePreRoll()
		}

	case StateSpeech:
		s.utteranceBuffer = append(s.utteranceBuffer, window...)
		if speech {
			s.silenceFrames = 0
		} else {
			s.silenceFrames = 1
			s.state = StateSilenceAfterSpeech
		}
		if s.durationSeconds() >= s.cfg.MaxUtteranceSeconds {
			return s.finalize()
		}

	case StateSilenceAfterSpeech:
		s.utteranceBuffer = append(s.utteranceBuffer, window...)
		if speech {
			s.silenceFrames = 0
			s.state = StateSpeech
		} else {
			s.silenceFrames++
		}

		duration := s.durationSeconds()
		if s.silenceFrames >= s.cfg.SilenceFramesReq {
			if duration >= s.cfg.MinUtteranceSeconds {
				return s.finalize()
			}
			s.reset()
			return nil
		}
		if duration >= s.cfg.MaxUtteranceSeconds {
			return s.finalize()
		}
	}

	return nil
}

// truncatePreRoll keeps only the last PreRollSeconds worth of audio in
// the utterance buffer while idle, so an emitted utterance always carries
// up to 500ms of pre-trigger context (spec.md invariant).
func (s *Segmenter) truncatePreRoll() {
	if len(s.utteranceBuffer) > s.maxPreRollBytes {
		s.utteranceBuffer = s.utteranceBuffer[len(s.utteranceBuffer)-s.maxPreRollBytes:]
	}
}

func (s *Segmenter) durationSeconds() float64 {
	samples := len(s.utteranceBuffer) / bytesPerSample
	return float64(samples) / float64(s.cfg.SampleRate)
}

func (s *Segmenter) finalize() *Utterance {
	pcm := make([]byte, len(s.utteranceBuffer))
	copy(pcm, s.utteranceBuffer)
	duration := time.Duration(s.durationSeconds() * float64(time.Second))
	s.reset()
	return &Utterance{PCM: pcm, Duration: duration}
}

func (s *Segmenter) reset() {
	s.utteranceBuffer = s.utteranceBuffer[:0]
	s.silenceFrames = 0
	s.state = StateIdle
}

// State reports the current VAD state, for diagnostics.
func (s *Segmenter) State() State { return s.state }
