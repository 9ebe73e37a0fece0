package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/metrics"
	"github.com/lokutor-ai/voicebridge/pkg/session"
)

// Pipeline is the waterfall orchestrator for one connection: at most one
// round runs at a time, with additional finalized utterances queued to a
// bounded barge-in buffer while busy (spec.md §4.4). It is grounded on
// the teacher's ManagedStream (pkg/orchestrator/managed_stream.go),
// generalized to streaming providers and this system's event schema.
type Pipeline struct {
	cfg    Config
	logger Logger

	stt STTProvider
	llm StreamingLLMProvider
	tts TTSProvider

	sess *session.Session

	ctx    context.Context
	cancel context.CancelFunc

	events chan Event

	mu          sync.Mutex
	running     bool
	ttsActive   bool
	interrupted bool
	roundCancel context.CancelFunc
	ttsStopOnce *sync.Once
	bargeBuffer [][]byte

	utteranceEndTime  time.Time
	sttStartTime      time.Time
	sttEndTime        time.Time
	llmStartTime      time.Time
	llmEndTime        time.Time
	ttsFirstChunkTime time.Time
	closeOnce         sync.Once

	metrics *metrics.Recorder
}

// SetMetrics attaches an optional recorder for stage-duration
// aggregates; nil (the default) disables recording entirely.
func (p *Pipeline) SetMetrics(rec *metrics.Recorder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = rec
}

// LatencyBreakdown returns the most recently completed round's
// per-stage timings, mirroring managed_stream.go's
// GetLatencyBreakdown.
func (p *Pipeline) LatencyBreakdown() metrics.RoundBreakdown {
	p.mu.Lock()
	defer p.mu.Unlock()
	return metrics.Breakdown(metrics.RoundTimestamps{
		UtteranceEnd:  p.utteranceEndTime,
		STTStart:      p.sttStartTime,
		STTEnd:        p.sttEndTime,
		LLMStart:      p.llmStartTime,
		LLMEnd:        p.llmEndTime,
		TTSFirstChunk: p.ttsFirstChunkTime,
	})
}

// New constructs a Pipeline bound to one connection's session. Any of
// stt/llm/tts being nil is a programmer error; operations return
// ErrNilProvider rather than panicking.
func New(ctx context.Context, cfg Config, logger Logger, stt STTProvider, llm StreamingLLMProvider, tts TTSProvider, sess *session.Session) *Pipeline {
	if logger == nil {
		logger = NoOpLogger{}
	}
	pctx, cancel := context.WithCancel(ctx)
	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		stt:    stt,
		llm:    llm,
		tts:    tts,
		sess:   sess,
		ctx:    pctx,
		cancel: cancel,
		events: make(chan Event, 256),
	}
}

// Events is the egress stream a connection's send task drains.
func (p *Pipeline) Events() <-chan Event { return p.events }

// Close cancels any in-flight round and closes the event channel. Safe
// to call more than once.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.Interrupt("shutdown")
		p.cancel()
		close(p.events)
	})
}

// ProcessUtterance is the segmenter's entry point (spec.md §4.4). It
// returns immediately: the round itself runs on its own goroutine so the
// caller's process task keeps feeding the segmenter (and thus keeps
// detecting barge-in utterances) while a round is in flight.
func (p *Pipeline) ProcessUtterance(pcm []byte) error {
	if p.stt == nil || p.llm == nil || p.tts == nil {
		return ErrNilProvider
	}

	p.mu.Lock()
	if p.running {
		ttsActive := p.ttsActive
		p.mu.Unlock()

		if ttsActive {
			go p.handleBargeInCandidate(pcm)
			return nil
		}
		return p.enqueueBargeIn(pcm)
	}
	p.running = true
	p.interrupted = false
	p.ttsStopOnce = new(sync.Once)
	p.utteranceEndTime = time.Now()
	roundCtx, roundCancel := context.WithCancel(p.ctx)
	p.roundCancel = roundCancel
	p.mu.Unlock()

	go p.runRound(roundCtx, pcm, "")
	return nil
}

// HandleText is the test_question bypass: it skips STT entirely.
func (p *Pipeline) HandleText(text string) error {
	if p.llm == nil || p.tts == nil {
		return ErrNilProvider
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return p.enqueueBargeIn(nil)
	}
	p.running = true
	p.interrupted = false
	p.ttsStopOnce = new(sync.Once)
	p.utteranceEndTime = time.Now()
	roundCtx, roundCancel := context.WithCancel(p.ctx)
	p.roundCancel = roundCancel
	p.mu.Unlock()

	go p.runRound(roundCtx, nil, text)
	return nil
}

func (p *Pipeline) enqueueBargeIn(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.bargeBuffer) >= p.cfg.BargeBufferCapacity {
		p.logger.Warn("barge-in buffer full, dropping utterance")
		return ErrBargeBufferFull
	}
	p.bargeBuffer = append(p.bargeBuffer, pcm)
	return nil
}

func (p *Pipeline) popBargeIn() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.bargeBuffer) == 0 {
		return nil
	}
	next := p.bargeBuffer[0]
	p.bargeBuffer = p.bargeBuffer[1:]
	return next
}

// handleBargeInCandidate runs the "short STT pass" of spec.md §4.7 while
// TTS is active: transcribe the interrupting utterance and, if it
// contains a stop keyword, interrupt; otherwise queue it as a barge-in
// utterance for after the round completes.
func (p *Pipeline) handleBargeInCandidate(pcm []byte) {
	ctx, cancel := context.WithTimeout(p.ctx, time.Duration(p.cfg.STTTimeoutSeconds)*time.Second)
	defer cancel()

	lang := p.sess.Lang()
	transcript, err := p.stt.Transcribe(ctx, pcm, lang)
	if err != nil {
		p.logger.Warn("barge-in transcription failed", "error", err)
		return
	}

	if isStopKeyword(transcript, p.cfg.StopKeywords) {
		p.Interrupt("keyword")
		return
	}

	if err := p.enqueueBargeIn(pcm); err != nil {
		p.logger.Warn("dropping barge-in utterance", "error", err)
	}
}

func isStopKeyword(transcript string, keywords []string) bool {
	lower := strings.ToLower(strings.TrimSpace(transcript))
	if lower == "" {
		return false
	}
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Interrupt cancels the in-flight round (if any) and guarantees a
// tts_stop is emitted so the client flushes its playback buffer
// (spec.md §4.4 "Interruption").
func (p *Pipeline) Interrupt(reason string) {
	p.mu.Lock()
	p.interrupted = true
	cancel := p.roundCancel
	once := p.ttsStopOnce
	p.bargeBuffer = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if once != nil {
		p.sendTTSStop(once)
	}
	if reason == "keyword" {
		// Server-side keyword barge-in forces an immediate client-side
		// playback stop, distinct from tts_stop's "flush any residual
		// buffer" (spec.md §6).
		p.emit(Event{Type: EventPlaybackStop})
	}
	p.emit(Event{Type: EventInterrupted, Text: reason})
}

// sendTTSStop emits exactly one tts_stop per round regardless of whether
// the caller is the normal-completion path or the interrupt path.
func (p *Pipeline) sendTTSStop(once *sync.Once) {
	once.Do(func() {
		p.mu.Lock()
		p.ttsActive = false
		p.mu.Unlock()
		p.emit(Event{Type: EventTTSStop})
	})
}

func (p *Pipeline) emit(ev Event) {
	select {
	case <-p.ctx.Done():
		return
	default:
	}
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
	default:
		p.logger.Warn("egress queue full, dropping event", "type", ev.Type)
	}
}

// runRound executes steps 1-10 of spec.md §4.4 for one utterance (or one
// test_question's literal text). Exactly one of pcm/text is populated.
func (p *Pipeline) runRound(ctx context.Context, pcm []byte, text string) {
	defer p.finishRound()

	transcript := text
	if pcm != nil {
		sttCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.STTTimeoutSeconds)*time.Second)
		p.mu.Lock()
		p.sttStartTime = time.Now()
		p.mu.Unlock()
		var err error
		transcript, err = p.stt.Transcribe(sttCtx, pcm, p.sess.Lang())
		cancel()
		p.mu.Lock()
		p.sttEndTime = time.Now()
		rec := p.metrics
		p.mu.Unlock()
		if rec != nil {
			rec.Record("stt", p.sttEndTime.Sub(p.sttStartTime))
		}
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("transcription failed", "error", err)
			}
			return
		}
	}

	if strings.TrimSpace(transcript) == "" {
		return
	}

	if ctx.Err() != nil {
		return
	}

	p.emit(Event{Type: EventTranscription, Text: transcript})
	p.sess.AddMessage(session.RoleUser, transcript)

	messages := p.buildMessages()

	p.mu.Lock()
	p.ttsActive = true
	once := p.ttsStopOnce
	p.mu.Unlock()
	p.emit(Event{Type: EventTTSStart})

	p.mu.Lock()
	p.llmStartTime = time.Now()
	p.mu.Unlock()
	fullResponse, err := p.runLLMAndTTS(ctx, messages)
	p.mu.Lock()
	p.llmEndTime = time.Now()
	rec := p.metrics
	p.mu.Unlock()
	if rec != nil {
		rec.Record("llm_and_tts", p.llmEndTime.Sub(p.llmStartTime))
	}
	if err != nil {
		if ctx.Err() == nil {
			p.sess.PopLast()
			p.logger.Warn("llm generation failed", "error", err)
		} else {
			// interrupted mid-stream: the response accumulated so far
			// (possibly empty) is kept as the assistant turn.
			p.sess.AddMessage(session.RoleAssistant, fullResponse)
		}
		p.sendTTSStop(once)
		return
	}

	if ctx.Err() != nil {
		// interrupted after the stream ended: the response is kept as the
		// assistant turn, but no llm_response is emitted.
		p.sess.AddMessage(session.RoleAssistant, fullResponse)
		return
	}

	p.sess.AddMessage(session.RoleAssistant, fullResponse)
	p.emit(Event{Type: EventLLMResponse, Text: fullResponse})
	p.sendTTSStop(once)
}

// buildMessages prepends the fixed system preamble to the session's
// trimmed history (spec.md §4.4 step 4).
func (p *Pipeline) buildMessages() []session.Message {
	history := p.sess.ContextCopy()
	messages := make([]session.Message, 0, len(history)+1)
	messages = append(messages, session.Message{Role: session.RoleSystem, Content: p.cfg.SystemPreamble})
	messages = append(messages, history...)
	return messages
}

// ttsTask tracks one clause's synthesis.
type ttsTask struct {
	done chan struct{}
	err  error
}

// runLLMAndTTS streams the LLM response, splitting clauses off the
// sentence buffer and prefetching each clause's synthesis one at a
// time: a clause's task is only started once the previous clause's
// task has been fully awaited (and its audio therefore fully emitted),
// so synthesis overlaps with LLM text generation but never with
// another clause's synthesis. This mirrors
// original_source/server/core/audio_processor.py's
// send_pending_audio/prefetch pair and is what gives spec.md §5(b)'s
// ordering guarantee: clause k's audio is always enqueued on egress
// before clause k+1's first chunk is synthesized, let alone emitted.
func (p *Pipeline) runLLMAndTTS(ctx context.Context, messages []session.Message) (string, error) {
	llmCtx, llmCancel := context.WithTimeout(ctx, time.Duration(p.cfg.LLMTimeoutSeconds)*time.Second)
	defer llmCancel()

	voice := p.sess.Voice()
	lang := p.sess.Lang()

	var sentenceBuffer strings.Builder
	var fullResponse strings.Builder
	firstAudio := true

	var pending *ttsTask

	// awaitPending blocks until the in-flight clause task (if any)
	// finishes, logging a non-fatal synthesis error. It returns false
	// if ctx was cancelled first, signaling the caller to stop
	// starting further clause tasks.
	awaitPending := func() bool {
		if pending == nil {
			return true
		}
		select {
		case <-pending.done:
			if pending.err != nil && ctx.Err() == nil {
				p.logger.Warn("tts clause failed", "error", pending.err)
			}
			return true
		case <-ctx.Done():
			return false
		}
	}

	submit := func(clause string) {
		if !awaitPending() {
			return
		}
		task := &ttsTask{done: make(chan struct{})}
		pending = task
		go func() {
			defer close(task.done)
			task.err = p.tts.StreamSynthesize(ctx, clause, voice, lang, func(chunk []byte) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				p.mu.Lock()
				if firstAudio {
					p.ttsFirstChunkTime = time.Now()
					firstAudio = false
				}
				p.mu.Unlock()
				p.emit(Event{Type: EventAudioChunk, Audio: chunk})
				return nil
			})
		}()
	}

	response, err := p.llm.StreamComplete(llmCtx, messages, func(chunk string) error {
		sentenceBuffer.WriteString(chunk)
		fullResponse.WriteString(chunk)
		p.emit(Event{Type: EventPartialLLMResponse, Text: chunk})

		remainder := drainClauses(sentenceBuffer.String(), p.cfg.MinClauseTokens, submit)
		sentenceBuffer.Reset()
		sentenceBuffer.WriteString(remainder)
		return nil
	})
	if err != nil {
		return fullResponse.String(), fmt.Errorf("%w: %v", ErrLLMFailed, err)
	}

	if residue := strings.TrimSpace(sentenceBuffer.String()); residue != "" {
		submit(sentenceBuffer.String())
	}

	awaitPending()

	if response == "" {
		response = fullResponse.String()
	}
	return response, nil
}

func (p *Pipeline) finishRound() {
	p.mu.Lock()
	p.running = false
	p.roundCancel = nil
	p.ttsActive = false
	rec := p.metrics
	utteranceEnd := p.utteranceEndTime
	p.mu.Unlock()

	if rec != nil && !utteranceEnd.IsZero() {
		rec.Record("round_total", time.Since(utteranceEnd))
	}

	if next := p.popBargeIn(); next != nil {
		p.ProcessUtterance(next)
	}
}

// IsRunning reports whether a round is currently in flight.
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// TTSActive reports whether the pipeline is between tts_start and
// tts_stop for the current round.
func (p *Pipeline) TTSActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ttsActive
}
