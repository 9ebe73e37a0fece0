// Package conn wires one accepted transport.Channel to a segmenter and
// a pipeline.Pipeline: three cooperating goroutines (send/recv/process)
// that tear each other down together, grounded on
// original_source/server/networking/websocket_server.py's
// asyncio.wait(FIRST_COMPLETED)-then-cancel-the-rest shape.
package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lokutor-ai/voicebridge/pkg/pipeline"
	"github.com/lokutor-ai/voicebridge/pkg/segmenter"
	"github.com/lokutor-ai/voicebridge/pkg/transport"
)

const (
	ingressQueueSize = 200
	egressQueueSize  = 200
)

// egressItem is either a control event (encoded as JSON text) or a raw
// audio blob, mirroring websocket_connection.py's event_queue holding
// "Union[dict, bytes]".
type egressItem struct {
	controlJSON []byte
	audio       []byte
}

type controlFrame struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// Supervisor owns the three per-connection tasks and the bounded
// ingress/egress queues between them (spec.md §4.2).
type Supervisor struct {
	ch  transport.Channel
	seg *segmenter.Segmenter
	pl  *pipeline.Pipeline
	log pipeline.Logger

	ingress chan []byte
	egress  chan egressItem

	mu         sync.Mutex
	sampleRate int
	ttsActive  bool

	droppedIngress int
	droppedEgress  int
}

func New(ch transport.Channel, seg *segmenter.Segmenter, pl *pipeline.Pipeline, log pipeline.Logger) *Supervisor {
	if log == nil {
		log = pipeline.NoOpLogger{}
	}
	return &Supervisor{
		ch:         ch,
		seg:        seg,
		pl:         pl,
		log:        log,
		ingress:    make(chan []byte, ingressQueueSize),
		egress:     make(chan egressItem, egressQueueSize),
		sampleRate: 16000,
	}
}

// Run starts the three cooperating tasks and blocks until any one of
// them exits, then cancels the others, mirroring
// websocket_server.py's asyncio.wait(FIRST_COMPLETED) + cancel-rest.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 3)
	go func() { errs <- s.sendTask(ctx) }()
	go func() { errs <- s.recvTask(ctx) }()
	go func() { errs <- s.processTask(ctx) }()

	firstErr := <-errs
	cancel()
	<-errs
	<-errs

	s.pl.Close()
	s.ch.Close()
	s.log.Info("connection closed", "dropped_ingress", s.droppedIngress, "dropped_egress", s.droppedEgress)
	return firstErr
}

func (s *Supervisor) sendTask(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-s.egress:
			var err error
			if item.controlJSON != nil {
				err = s.ch.SendText(ctx, string(item.controlJSON))
			} else {
				err = s.ch.SendBinary(ctx, item.audio)
			}
			if err != nil {
				return fmt.Errorf("send task: %w", err)
			}
		}
	}
}

func (s *Supervisor) recvTask(ctx context.Context) error {
	for {
		frame, err := s.ch.Recv(ctx)
		if err != nil {
			return fmt.Errorf("recv task: %w", err)
		}

		switch frame.Type {
		case transport.FrameClosed:
			return nil
		case transport.FrameBinary:
			select {
			case s.ingress <- frame.Data:
			default:
				select {
				case <-s.ingress:
				default:
				}
				s.ingress <- frame.Data
				s.mu.Lock()
				s.droppedIngress++
				s.mu.Unlock()
			}
		case transport.FrameText:
			s.handleControl(frame.Data)
		}
	}
}

func (s *Supervisor) handleControl(data []byte) {
	var cf controlFrame
	if err := json.Unmarshal(data, &cf); err != nil {
		s.log.Warn("discarding invalid control frame", "error", err)
		return
	}

	switch cf.Type {
	case "hello":
		s.mu.Lock()
		if cf.SampleRate > 0 {
			s.sampleRate = cf.SampleRate
		}
		s.mu.Unlock()
	case "interrupt":
		s.pl.Interrupt("control_frame")
	case "test_question":
		if cf.Text != "" {
			if err := s.pl.HandleText(cf.Text); err != nil {
				s.log.Warn("dropping test_question", "error", err)
			}
		}
	case "wake_word_detected":
		// informational only; no server-side action required.
	}
}

func (s *Supervisor) processTask(ctx context.Context) error {
	go s.relayPipelineEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk := <-s.ingress:
			s.mu.Lock()
			ttsActive := s.ttsActive
			s.mu.Unlock()

			utt, err := s.seg.Process(chunk, ttsActive)
			if err != nil {
				return fmt.Errorf("segmenter: %w", err)
			}
			if utt != nil {
				if err := s.pl.ProcessUtterance(utt.PCM); err != nil {
					s.log.Warn("dropping utterance", "error", err)
				}
			}
		}
	}
}

// relayPipelineEvents drains pipeline.Pipeline.Events() and converts
// each into an egress queue item: control events become JSON text,
// raw audio chunks become binary frames, matching the dict/bytes
// union websocket_connection.py's event_queue carries.
func (s *Supervisor) relayPipelineEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.pl.Events():
			if !ok {
				return
			}

			s.mu.Lock()
			switch ev.Type {
			case pipeline.EventTTSStart:
				s.ttsActive = true
			case pipeline.EventTTSStop, pipeline.EventInterrupted:
				s.ttsActive = false
			}
			s.mu.Unlock()

			if ev.Type == pipeline.EventAudioChunk {
				s.enqueueEgress(egressItem{audio: ev.Audio})
				continue
			}

			// EventInterrupted and EventError are internal markers
			// (pkg/pipeline/types.go) consumed above for ttsActive
			// bookkeeping and logging; they are not part of the
			// server->client control-frame schema and must never reach
			// the wire.
			if ev.Type == pipeline.EventInterrupted || ev.Type == pipeline.EventError {
				if ev.Type == pipeline.EventError {
					s.log.Warn("pipeline error event", "text", ev.Text)
				}
				continue
			}

			payload, err := json.Marshal(map[string]string{"type": string(ev.Type), "text": ev.Text})
			if err != nil {
				s.log.Error("failed to encode event", "type", ev.Type, "error", err)
				continue
			}
			s.enqueueEgress(egressItem{controlJSON: payload})
		}
	}
}

func (s *Supervisor) enqueueEgress(item egressItem) {
	select {
	case s.egress <- item:
	default:
		s.mu.Lock()
		s.droppedEgress++
		s.mu.Unlock()
		s.log.Warn("egress queue full, dropping item")
	}
}
