package client

import "context"

// NewEnergyWake returns a dependency-free WakeFunc stand-in for a real
// wake-word model (openwakeword.Model is out of scope, the same
// boundary segmenter.EnergyProber draws around the neural VAD): it
// reports a wake trigger once minConfirmedFrames consecutive frames
// have an RMS at or above threshold (EchoVAD's hysteresis). A
// real wake-word binding satisfies the same WakeFunc signature and is
// a drop-in replacement.
func NewEnergyWake(threshold float64) WakeFunc {
	v := NewEchoVAD(threshold, 1.0)
	return func(ctx context.Context, frame []byte) (bool, error) {
		return v.Process(frame, false), nil
	}
}
