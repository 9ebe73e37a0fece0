package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/transport"
)

type fakeChannel struct {
	in  chan transport.Frame
	out chan []byte
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{in: make(chan transport.Frame, 16), out: make(chan []byte, 16)}
}

func (f *fakeChannel) SendBinary(ctx context.Context, data []byte) error {
	f.out <- append([]byte(nil), data...)
	return nil
}

func (f *fakeChannel) SendText(ctx context.Context, text string) error {
	f.out <- []byte(text)
	return nil
}

func (f *fakeChannel) Recv(ctx context.Context) (transport.Frame, error) {
	select {
	case fr := <-f.in:
		return fr, nil
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	}
}

func (f *fakeChannel) Close() error { return nil }

func silentFrame(n int) []byte { return make([]byte, n) }

func TestMachineStaysWaitingUntilWakeDetected(t *testing.T) {
	ch := newFakeChannel()
	wake := func(ctx context.Context, frame []byte) (bool, error) { return false, nil }
	m := New(DefaultConfig(), ch, wake, nil, nil, nil)

	if err := m.ProcessCapturedFrame(context.Background(), silentFrame(64)); err != nil {
		t.Fatalf("ProcessCapturedFrame: %v", err)
	}
	if m.State() != StateWaitingForWake {
		t.Errorf("state = %v, want StateWaitingForWake", m.State())
	}
	select {
	case <-ch.out:
		t.Error("expected no frames forwarded while waiting for wake")
	default:
	}
}

func TestMachineTransitionsToStreamingAndSendsHello(t *testing.T) {
	ch := newFakeChannel()
	wake := func(ctx context.Context, frame []byte) (bool, error) { return true, nil }

	cfg := DefaultConfig()
	cfg.ActivationDelay = 10 * time.Millisecond

	toneFired := false
	m := New(cfg, ch, wake, nil, func() { toneFired = true }, nil)

	if err := m.ProcessCapturedFrame(context.Background(), silentFrame(64)); err != nil {
		t.Fatalf("ProcessCapturedFrame: %v", err)
	}
	if !toneFired {
		t.Error("expected feedback tone to fire on wake detection")
	}
	if m.State() != StateStreaming {
		t.Errorf("state = %v, want StateStreaming", m.State())
	}

	select {
	case msg := <-ch.out:
		var hello map[string]any
		if err := json.Unmarshal(msg, &hello); err != nil {
			t.Fatalf("hello payload not JSON: %v", err)
		}
		if hello["type"] != "hello" {
			t.Errorf("hello[type] = %v, want hello", hello["type"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for hello frame")
	}
}

func TestMachineForwardsFramesWhileStreaming(t *testing.T) {
	ch := newFakeChannel()
	wake := func(ctx context.Context, frame []byte) (bool, error) { return false, nil }
	m := New(DefaultConfig(), ch, wake, nil, nil, nil)
	m.state = StateStreaming

	frame := []byte{1, 2, 3, 4}
	if err := m.ProcessCapturedFrame(context.Background(), frame); err != nil {
		t.Fatalf("ProcessCapturedFrame: %v", err)
	}

	select {
	case got := <-ch.out:
		if len(got) != len(frame) {
			t.Errorf("forwarded frame len = %d, want %d", len(got), len(frame))
		}
	default:
		t.Error("expected frame to be forwarded to the channel while streaming")
	}
}

func TestMachineResetsToWaitingOnTTSStop(t *testing.T) {
	ch := newFakeChannel()
	wake := func(ctx context.Context, frame []byte) (bool, error) { return false, nil }

	var gotEvents []string
	m := New(DefaultConfig(), ch, wake, nil, nil, func(eventType, text string) {
		gotEvents = append(gotEvents, eventType)
	})
	m.state = StateStreaming

	start, _ := json.Marshal(controlEvent{Type: "tts_start"})
	m.handleControl(start)
	if !m.ttsActive {
		t.Error("expected ttsActive to be true after tts_start")
	}

	stop, _ := json.Marshal(controlEvent{Type: "tts_stop"})
	m.handleControl(stop)

	if m.ttsActive {
		t.Error("expected ttsActive to be false after tts_stop")
	}
	if m.State() != StateWaitingForWake {
		t.Errorf("state = %v, want StateWaitingForWake after tts_stop", m.State())
	}
	if len(gotEvents) != 2 || gotEvents[0] != "tts_start" || gotEvents[1] != "tts_stop" {
		t.Errorf("gotEvents = %v", gotEvents)
	}
}

func TestMachineEchoThresholdRisesWhileTTSActive(t *testing.T) {
	ch := newFakeChannel()
	wake := func(ctx context.Context, frame []byte) (bool, error) { return false, nil }
	m := New(DefaultConfig(), ch, wake, nil, nil, nil)

	start, _ := json.Marshal(controlEvent{Type: "tts_start"})
	m.handleControl(start)

	if !m.ttsActive {
		t.Fatal("expected ttsActive true")
	}
}

func TestMachineSendInterrupt(t *testing.T) {
	ch := newFakeChannel()
	wake := func(ctx context.Context, frame []byte) (bool, error) { return false, nil }
	m := New(DefaultConfig(), ch, wake, nil, nil, nil)

	if err := m.SendInterrupt(context.Background()); err != nil {
		t.Fatalf("SendInterrupt: %v", err)
	}

	select {
	case got := <-ch.out:
		var ev controlEvent
		if err := json.Unmarshal(got, &ev); err != nil {
			t.Fatalf("payload not JSON: %v", err)
		}
		if ev.Type != "interrupt" {
			t.Errorf("ev.Type = %q, want interrupt", ev.Type)
		}
	default:
		t.Error("expected an interrupt frame to be sent")
	}
}

func TestMachineRunRecvLoopDispatchesPlaybackAndControl(t *testing.T) {
	ch := newFakeChannel()
	wake := func(ctx context.Context, frame []byte) (bool, error) { return false, nil }

	var playedBack []byte
	var events []string
	m := New(DefaultConfig(), ch, wake, func(pcm []byte) { playedBack = pcm }, nil, func(t, text string) { events = append(events, t) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunRecvLoop(ctx) }()

	ch.in <- transport.Frame{Type: transport.FrameBinary, Data: []byte{9, 9, 9}}
	control, _ := json.Marshal(controlEvent{Type: "transcription", Text: "hi"})
	ch.in <- transport.Frame{Type: transport.FrameText, Data: control}
	ch.in <- transport.Frame{Type: transport.FrameClosed}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunRecvLoop: %v", err)
		}
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("timed out waiting for RunRecvLoop to return")
	}
	cancel()

	if len(playedBack) != 3 {
		t.Errorf("playedBack len = %d, want 3", len(playedBack))
	}
	if len(events) != 1 || events[0] != "transcription" {
		t.Errorf("events = %v", events)
	}
}
