// Command voicebridge-client is the edge companion to voicebridge-server:
// it owns the local microphone/speaker, runs the wake/stream state
// machine, and relays framed audio/control traffic over a WebSocket,
// grounded on cmd/agent/main.go's malgo duplex-audio wiring and
// original_source/client/websocket_client.py's send/receive task shape.
package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/voicebridge/pkg/client"
	"github.com/lokutor-ai/voicebridge/pkg/transport"
)

const (
	captureSampleRate  = 16000
	playbackSampleRate = 24000
	wakeThreshold      = 0.02
	toneFreqHz         = 880.0
	toneDurationMs     = 150
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using system environment variables")
	}

	serverURL := os.Getenv("VOICEBRIDGE_SERVER_URL")
	if serverURL == "" {
		serverURL = "ws://127.0.0.1:8000/ws/audio"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := transport.Dial(ctx, serverURL, http.Header{})
	if err != nil {
		log.Fatalf("dial %s: %v", serverURL, err)
	}

	var playbackMu sync.Mutex
	var playbackBytes []byte

	onPlayback := func(pcm []byte) {
		playbackMu.Lock()
		playbackBytes = append(playbackBytes, pcm...)
		playbackMu.Unlock()
	}

	onTone := func() {
		playbackMu.Lock()
		playbackBytes = append(playbackBytes, beepTone()...)
		playbackMu.Unlock()
	}

	onEvent := func(eventType, text string) {
		switch eventType {
		case "tts_stop", "playback_stop", "interrupted":
			playbackMu.Lock()
			playbackBytes = nil
			playbackMu.Unlock()
		}
		if text != "" {
			fmt.Printf("\r\033[K[%s] %s\n", eventType, text)
		} else {
			fmt.Printf("\r\033[K[%s]\n", eventType)
		}
	}

	cfg := client.DefaultConfig()
	cfg.SampleRate = captureSampleRate
	wake := client.NewEnergyWake(wakeThreshold)
	machine := client.New(cfg, ch, wake, onPlayback, onTone, onEvent)

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatalf("malgo init context: %v", err)
	}
	defer mctx.Uninit()

	captureFrames := make(chan []byte, 32)

	captureConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	captureConfig.Capture.Format = malgo.FormatF32
	captureConfig.Capture.Channels = 1
	captureConfig.SampleRate = captureSampleRate
	captureConfig.Alsa.NoMMap = 1

	var rmsMu sync.Mutex
	lastRMS := 0.0

	onCaptureSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput == nil {
			return
		}
		rmsMu.Lock()
		lastRMS = rmsFloat32LE(pInput)
		rmsMu.Unlock()

		frame := make([]byte, len(pInput))
		copy(frame, pInput)
		select {
		case captureFrames <- frame:
		default:
			select {
			case <-captureFrames:
			default:
			}
			captureFrames <- frame
		}
	}

	captureDevice, err := malgo.InitDevice(mctx.Context, captureConfig, malgo.DeviceCallbacks{
		Data: onCaptureSamples,
	})
	if err != nil {
		log.Fatalf("malgo init capture device: %v", err)
	}
	defer captureDevice.Uninit()

	playbackConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	playbackConfig.Playback.Format = malgo.FormatS16
	playbackConfig.Playback.Channels = 1
	playbackConfig.SampleRate = playbackSampleRate
	playbackConfig.Alsa.NoMMap = 1

	onPlaybackSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pOutput == nil {
			return
		}
		playbackMu.Lock()
		n := copy(pOutput, playbackBytes)
		playbackBytes = playbackBytes[n:]
		playbackMu.Unlock()

		for i := n; i < len(pOutput); i++ {
			pOutput[i] = 0
		}
	}

	playbackDevice, err := malgo.InitDevice(mctx.Context, playbackConfig, malgo.DeviceCallbacks{
		Data: onPlaybackSamples,
	})
	if err != nil {
		log.Fatalf("malgo init playback device: %v", err)
	}
	defer playbackDevice.Uninit()

	if err := captureDevice.Start(); err != nil {
		log.Fatalf("start capture device: %v", err)
	}
	defer captureDevice.Stop()

	if err := playbackDevice.Start(); err != nil {
		log.Fatalf("start playback device: %v", err)
	}
	defer playbackDevice.Stop()

	go func() {
		for frame := range captureFrames {
			if err := machine.ProcessCapturedFrame(ctx, frame); err != nil {
				log.Printf("process captured frame: %v", err)
			}
		}
	}()

	go func() {
		if err := machine.RunRecvLoop(ctx); err != nil {
			log.Printf("recv loop ended: %v", err)
			cancel()
		}
	}()

	go func() {
		for {
			rmsMu.Lock()
			level := lastRMS
			rmsMu.Unlock()

			dots := int(level * 500)
			if dots > 40 {
				dots = 40
			}
			meter := ""
			for i := 0; i < dots; i++ {
				meter += "|"
			}
			state := machine.State()
			fmt.Printf("\r[%s][MIC %-40s] RMS: %.5f", state, meter, level)

			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}()

	fmt.Printf("voicebridge-client connected to %s\n", serverURL)
	fmt.Println("Listening for wake word. Press Ctrl+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("\nshutting down")
	cancel()
	ch.Close()
}

// beepTone synthesizes a short sine-wave feedback tone at
// playbackSampleRate/int16 PCM, played back through the same buffer
// TTS audio uses, to signal wake-word detection before streaming
// starts (spec.md §4.8).
func beepTone() []byte {
	n := playbackSampleRate * toneDurationMs / 1000
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(playbackSampleRate)
		sample := int16(0.2 * 32767 * math.Sin(2*math.Pi*toneFreqHz*t))
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}

func rmsFloat32LE(frame []byte) float64 {
	n := len(frame) / 4
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		bits := uint32(frame[i*4]) | uint32(frame[i*4+1])<<8 | uint32(frame[i*4+2])<<16 | uint32(frame[i*4+3])<<24
		f := math.Float32frombits(bits)
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum / float64(n))
}
