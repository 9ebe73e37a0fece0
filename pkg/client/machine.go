// Package client implements the edge-side wake/stream state machine:
// gate captured microphone frames on a wake word, stream to the server
// once awake, and play back synthesized speech while echo-suppressing
// the client's own local VAD, grounded on
// original_source/client/websocket_client.py's VoiceAssistantClient
// and original_source/client/audio/wake_word.py's buffering contract.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/transport"
)

// State mirrors spec.md §4.8's three-state machine.
type State string

const (
	StateWaitingForWake State = "waiting_for_wake"
	StateWakeDetected   State = "wake_detected"
	StateStreaming      State = "streaming"
)

// WakeFunc scores one buffered audio frame for wake-word confidence.
// The wake model itself is out of scope (spec.md §1); Machine is
// written against the function the same way segmenter.SpeechProber and
// stt.InferenceFunc decouple the rest of this module from model weights.
type WakeFunc func(ctx context.Context, frame []byte) (detected bool, err error)

// Config bounds Machine's timing, mirroring spec.md §4.8's named constants.
type Config struct {
	SampleRate          int
	Channels            int
	ActivationDelay     time.Duration
	EchoThresholdFactor float64
	BaseVADThreshold    float64
	PreRollSeconds      float64
	PreRollTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate:          16000,
		Channels:            1,
		ActivationDelay:     500 * time.Millisecond,
		EchoThresholdFactor: 1.25,
		BaseVADThreshold:    0.02,
		PreRollSeconds:      1.5,
		PreRollTimeout:      3 * time.Second,
	}
}

// PlaybackFunc renders received PCM through the local audio output.
type PlaybackFunc func(pcm []byte)

// ToneFunc plays the short wake-acknowledgment feedback tone.
type ToneFunc func()

// EventHandler receives decoded server control frames so a UI or CLI
// can render transcripts/responses; optional (may be nil).
type EventHandler func(eventType, text string)

// Machine drives one connection's client-side state machine.
type Machine struct {
	cfg  Config
	ch   transport.Channel
	wake WakeFunc
	vad  *EchoVAD

	onPlayback PlaybackFunc
	onTone     ToneFunc
	onEvent    EventHandler

	preroll *PreRollBuffer

	state     State
	ttsActive bool
}

func New(cfg Config, ch transport.Channel, wake WakeFunc, onPlayback PlaybackFunc, onTone ToneFunc, onEvent EventHandler) *Machine {
	return &Machine{
		cfg:        cfg,
		ch:         ch,
		wake:       wake,
		vad:        NewEchoVAD(cfg.BaseVADThreshold, cfg.EchoThresholdFactor),
		onPlayback: onPlayback,
		onTone:     onTone,
		onEvent:    onEvent,
		preroll:    NewPreRollBuffer(cfg.SampleRate, cfg.PreRollSeconds),
		state:      StateWaitingForWake,
	}
}

func (m *Machine) State() State { return m.state }

// WaitForPreroll blocks until the pre-roll buffer has a full window or
// its configured timeout elapses. Call once at capture startup before
// relying on ProcessCapturedFrame's pre-roll flush being complete.
func (m *Machine) WaitForPreroll() {
	m.preroll.Wait(m.cfg.PreRollTimeout)
}

// RunRecvLoop drains server frames until ctx is canceled or the
// channel closes, dispatching binary frames to playback and control
// frames to handleControl. Run this concurrently with feeding captured
// frames through ProcessCapturedFrame.
func (m *Machine) RunRecvLoop(ctx context.Context) error {
	for {
		frame, err := m.ch.Recv(ctx)
		if err != nil {
			return fmt.Errorf("client recv loop: %w", err)
		}
		switch frame.Type {
		case transport.FrameClosed:
			return nil
		case transport.FrameBinary:
			if m.onPlayback != nil {
				m.onPlayback(frame.Data)
			}
		case transport.FrameText:
			m.handleControl(frame.Data)
		}
	}
}

type controlEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (m *Machine) handleControl(data []byte) {
	var ev controlEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	switch ev.Type {
	case "tts_start":
		m.ttsActive = true
	case "tts_stop", "playback_stop":
		m.ttsActive = false
		if m.state == StateStreaming {
			m.resetToWaiting()
		}
	}

	if m.onEvent != nil {
		m.onEvent(ev.Type, ev.Text)
	}
}

// ProcessCapturedFrame feeds one fixed-size captured frame (float32 LE
// mono PCM) through the state machine: wake-gating in WAITING_FOR_WAKE,
// forwarding in STREAMING, and local echo-suppressed VAD bookkeeping
// throughout.
func (m *Machine) ProcessCapturedFrame(ctx context.Context, frame []byte) error {
	m.vad.Process(frame, m.ttsActive)
	m.preroll.Write(frame)

	switch m.state {
	case StateWaitingForWake:
		return m.processWaiting(ctx, frame)
	case StateStreaming:
		return m.ch.SendBinary(ctx, frame)
	default:
		return nil
	}
}

func (m *Machine) processWaiting(ctx context.Context, frame []byte) error {
	detected, err := m.wake(ctx, frame)
	if err != nil {
		return fmt.Errorf("wake detection: %w", err)
	}
	if !detected {
		return nil
	}

	m.state = StateWakeDetected
	if m.onTone != nil {
		m.onTone()
	}

	select {
	case <-time.After(m.cfg.ActivationDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	m.state = StateStreaming
	if err := m.sendHello(ctx); err != nil {
		return err
	}

	// Flush the accumulated pre-roll window so the utterance the server
	// segments includes the speech that preceded wake-word detection.
	if preroll := m.preroll.Snapshot(); len(preroll) > 0 {
		return m.ch.SendBinary(ctx, preroll)
	}
	return nil
}

func (m *Machine) sendHello(ctx context.Context) error {
	// sample_rate/channels travel as extra fields the framed transport
	// requires on the opening message; controlEvent only carries
	// Type/Text so the hello payload is built directly instead.
	payload := map[string]any{
		"type":        "hello",
		"sample_rate": m.cfg.SampleRate,
		"channels":    m.cfg.Channels,
	}
	hello, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return m.ch.SendText(ctx, string(hello))
}

func (m *Machine) resetToWaiting() {
	m.state = StateWaitingForWake
	m.vad.Reset()
}

// SendInterrupt sends an explicit {type:"interrupt"} control frame,
// the client-initiated barge-in path alongside semantic barge-in
// (spec.md §4.7).
func (m *Machine) SendInterrupt(ctx context.Context) error {
	payload, err := json.Marshal(controlEvent{Type: "interrupt"})
	if err != nil {
		return err
	}
	return m.ch.SendText(ctx, string(payload))
}
