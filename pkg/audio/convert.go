package audio

import "math"

// Float32LEToInt16LE converts little-endian float32 samples in [-1, 1]
// (the wire format client→server frames use, spec.md §4.1) to
// little-endian int16 PCM, the format WAV-upload STT providers expect.
// Out-of-range input is clamped rather than wrapped.
func Float32LEToInt16LE(samples []byte) []byte {
	n := len(samples) / 4
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		bits := uint32(samples[i*4]) | uint32(samples[i*4+1])<<8 | uint32(samples[i*4+2])<<16 | uint32(samples[i*4+3])<<24
		f := math.Float32frombits(bits)
		if f > 1 {
			f = 1
		}
		if f < -1 {
			f = -1
		}
		v := int16(f * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
