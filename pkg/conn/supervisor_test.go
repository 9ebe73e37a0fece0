package conn

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/pipeline"
	"github.com/lokutor-ai/voicebridge/pkg/segmenter"
	"github.com/lokutor-ai/voicebridge/pkg/session"
	"github.com/lokutor-ai/voicebridge/pkg/transport"
)

// fakeChannel is an in-memory transport.Channel test double: inbound
// frames are fed via the in channel, outbound sends land on out.
type fakeChannel struct {
	in  chan transport.Frame
	out chan []byte

	mu     sync.Mutex
	closed bool
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
	case fr, ok := <-f.in:
		if !ok {
			return transport.Frame{Type: transport.FrameClosed}, nil
		}
		return fr, nil
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	}
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.in)
	}
	return nil
}

type alwaysSpeechProber struct{}

func (alwaysSpeechProber) WindowSamples() int                     { return 512 }
func (alwaysSpeechProber) Predict(window []byte) (float64, error) { return 1.0, nil }

type stubSTT struct{}

func (stubSTT) Transcribe(ctx context.Context, audio []byte, lang session.Language) (string, error) {
	return "hello there friend", nil
}
func (stubSTT) Name() string { return "stub-stt" }

type stubLLM struct{}

func (stubLLM) Complete(ctx context.Context, messages []session.Message) (string, error) {
	return "hi", nil
}
func (stubLLM) Name() string { return "stub-llm" }
func (stubLLM) StreamComplete(ctx context.Context, messages []session.Message, onChunk func(string) error) (string, error) {
	if err := onChunk("hi there. "); err != nil {
		return "", err
	}
	return "hi there. ", nil
}

type stubTTS struct{}

func (stubTTS) Synthesize(ctx context.Context, text string, voice session.Voice, lang session.Language) ([]byte, error) {
	return []byte("pcm"), nil
}
func (stubTTS) StreamSynthesize(ctx context.Context, text string, voice session.Voice, lang session.Language, onChunk func([]byte) error) error {
	return onChunk([]byte("pcm"))
}
func (stubTTS) Abort() error     { return nil }
func (stubTTS) SampleRate() int  { return 24000 }
func (stubTTS) Name() string     { return "stub-tts" }

func newTestSupervisor(ctx context.Context) (*Supervisor, *fakeChannel) {
	ch := newFakeChannel()
	seg := segmenter.New(segmenter.DefaultConfig(), alwaysSpeechProber{})
	sess := session.New("test-conn")
	pl := pipeline.New(ctx, pipeline.DefaultConfig(), pipeline.NoOpLogger{}, stubSTT{}, stubLLM{}, stubTTS{}, sess)
	sup := New(ch, seg, pl, pipeline.NoOpLogger{})
	return sup, ch
}

func TestSupervisorHelloUpdatesSampleRate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup, ch := newTestSupervisor(ctx)

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	hello, _ := json.Marshal(controlFrame{Type: "hello", SampleRate: 44100, Channels: 1})
	ch.in <- transport.Frame{Type: transport.FrameText, Data: hello}

	time.Sleep(50 * time.Millisecond)
	sup.mu.Lock()
	gotRate := sup.sampleRate
	sup.mu.Unlock()
	if gotRate != 44100 {
		t.Errorf("sampleRate = %d, want 44100", gotRate)
	}

	ch.Close()
	<-done
}

func TestSupervisorTestQuestionProducesTranscriptionEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup, ch := newTestSupervisor(ctx)

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	tq, _ := json.Marshal(controlFrame{Type: "test_question", Text: "what time is it"})
	ch.in <- transport.Frame{Type: transport.FrameText, Data: tq}

	sawTranscription := false
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case out := <-ch.out:
			var ev map[string]string
			if json.Unmarshal(out, &ev) == nil && ev["type"] == "transcription" {
				sawTranscription = true
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if !sawTranscription {
		t.Error("expected a transcription event on the egress channel")
	}

	ch.Close()
	<-done
}

func TestSupervisorRecvQueueDropsOldestOnOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := newFakeChannel()
	sup := &Supervisor{
		ch:      ch,
		ingress: make(chan []byte, 2),
		log:     pipeline.NoOpLogger{},
	}

	for _, b := range []string{"a", "b", "c"} {
		ch.in <- transport.Frame{Type: transport.FrameBinary, Data: []byte(b)}
	}
	ch.Close()
	if err := sup.recvTask(ctx); err != nil {
		t.Fatalf("recvTask: %v", err)
	}

	if len(sup.ingress) != 2 {
		t.Fatalf("len(ingress) = %d, want 2", len(sup.ingress))
	}
	if got := string(<-sup.ingress); got != "b" {
		t.Errorf("first queued frame = %q, want b (oldest frame a dropped)", got)
	}
	if got := string(<-sup.ingress); got != "c" {
		t.Errorf("second queued frame = %q, want c", got)
	}
	if sup.droppedIngress != 1 {
		t.Errorf("droppedIngress = %d, want 1", sup.droppedIngress)
	}
}
