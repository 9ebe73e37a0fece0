package metrics

import "time"

// RoundBreakdown holds one round's per-stage timings (all values in
// milliseconds), the same fields managed_stream.go's LatencyBreakdown
// exposes, renamed to this system's stage vocabulary.
type RoundBreakdown struct {
	UserToSTT          int64 // utterance end -> STT final
	STT                int64 // STT duration (start -> end)
	UserToLLM          int64 // utterance end -> LLM end
	LLM                int64 // LLM duration (start -> end)
	UserToTTSFirstByte int64 // utterance end -> first TTS chunk
	LLMToTTSFirstByte  int64 // LLM end -> first TTS chunk
	UserToPlay         int64 // utterance end -> first chunk actually sent
}

// RoundTimestamps is the raw wall-clock marks a round collects; zero
// values mean that stage never completed (e.g. the round was
// interrupted), matching managed_stream.go's IsZero() guards.
type RoundTimestamps struct {
	UtteranceEnd  time.Time
	STTStart      time.Time
	STTEnd        time.Time
	LLMStart      time.Time
	LLMEnd        time.Time
	TTSFirstChunk time.Time
}

// Breakdown computes a RoundBreakdown from a RoundTimestamps snapshot,
// skipping any stage whose timestamps are incomplete.
func Breakdown(ts RoundTimestamps) RoundBreakdown {
	var bd RoundBreakdown
	if ts.UtteranceEnd.IsZero() {
		return bd
	}

	if !ts.STTEnd.IsZero() {
		bd.UserToSTT = ts.STTEnd.Sub(ts.UtteranceEnd).Milliseconds()
	}
	if !ts.STTStart.IsZero() && !ts.STTEnd.IsZero() {
		bd.STT = ts.STTEnd.Sub(ts.STTStart).Milliseconds()
	}

	if !ts.LLMEnd.IsZero() {
		bd.UserToLLM = ts.LLMEnd.Sub(ts.UtteranceEnd).Milliseconds()
	}
	if !ts.LLMStart.IsZero() && !ts.LLMEnd.IsZero() {
		bd.LLM = ts.LLMEnd.Sub(ts.LLMStart).Milliseconds()
	}

	if !ts.TTSFirstChunk.IsZero() {
		bd.UserToTTSFirstByte = ts.TTSFirstChunk.Sub(ts.UtteranceEnd).Milliseconds()
		bd.UserToPlay = bd.UserToTTSFirstByte
		if !ts.LLMEnd.IsZero() {
			bd.LLMToTTSFirstByte = ts.TTSFirstChunk.Sub(ts.LLMEnd).Milliseconds()
		}
	}

	return bd
}
