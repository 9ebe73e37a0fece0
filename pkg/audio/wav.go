// Package audio holds small, dependency-free PCM helpers shared by the
// cloud-fallback providers: WAV container framing and sample-format
// conversion between the wire's float32 PCM and the 16-bit PCM most
// REST transcription APIs expect as file uploads.
package audio

import (
	"bytes"
	"encoding/binary"
)

// NewWavBuffer wraps raw 16-bit little-endian mono PCM in a minimal
// canonical WAV container (44-byte header, no extension chunks), the
// format OpenAI/Groq/AssemblyAI file-upload transcription accepts.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm))) // chunk size: header + data
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))            // fmt chunk size (PCM)
	binary.Write(buf, binary.LittleEndian, uint16(1))             // audio format: 1 = PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
