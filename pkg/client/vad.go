package client

import "math"

// minConfirmedFrames requires ~70-100ms of continuous energy above
// threshold before a speech-start is confirmed, matching
// pkg/orchestrator/vad.go's RMSVAD hysteresis.
const minConfirmedFrames = 7

// EchoVAD is a local, non-gating energy detector used only for
// feedback/echo suppression on the client: it raises its own
// threshold while the assistant is speaking so the client's own
// played-back audio bleeding into the microphone doesn't register as
// user speech. It does not gate what gets forwarded to the server;
// WakeFunc and the wake/stream state machine own that decision.
type EchoVAD struct {
	baseThreshold float64
	echoFactor    float64

	consecutive int
	speaking    bool
	lastRMS     float64
}

func NewEchoVAD(baseThreshold, echoFactor float64) *EchoVAD {
	if echoFactor <= 0 {
		echoFactor = 1.25
	}
	return &EchoVAD{baseThreshold: baseThreshold, echoFactor: echoFactor}
}

// Process updates hysteresis state from one float32 LE PCM frame (the
// wire format, spec.md §4.1). When ttsActive is true the effective
// threshold is raised by echoFactor, matching spec.md §4.8's 1.25x
// threshold increase while audio is playing back.
func (v *EchoVAD) Process(frame []byte, ttsActive bool) bool {
	v.lastRMS = calculateRMS(frame)

	threshold := v.baseThreshold
	if ttsActive {
		threshold *= v.echoFactor
	}

	if v.lastRMS >= threshold {
		v.consecutive++
		if v.consecutive >= minConfirmedFrames {
			v.speaking = true
		}
	} else {
		v.consecutive = 0
		v.speaking = false
	}
	return v.speaking
}

func (v *EchoVAD) Speaking() bool   { return v.speaking }
func (v *EchoVAD) LastRMS() float64 { return v.lastRMS }

func (v *EchoVAD) Reset() {
	v.consecutive = 0
	v.speaking = false
	v.lastRMS = 0
}

// calculateRMS assumes little-endian float32 mono PCM in [-1, 1],
// matching segmenter.rmsFloat32LE and the RMS heuristic
// pkg/orchestrator/vad.go applied to its own int16 input.
func calculateRMS(frame []byte) float64 {
	n := len(frame) / 4
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		bits := uint32(frame[i*4]) | uint32(frame[i*4+1])<<8 | uint32(frame[i*4+2])<<16 | uint32(frame[i*4+3])<<24
		f := math.Float32frombits(bits)
		sumSquares += float64(f) * float64(f)
	}
	return math.Sqrt(sumSquares / float64(n))
}
