// Command voicebridge-server is the full-duplex voice assistant
// server: it accepts framed audio/control connections over WebSocket
// and drives each one through the segmenter/pipeline waterfall,
// grounded on original_source/server/server_main.py and
// original_source/server/networking/websocket_server.py, with
// provider selection following cmd/agent/main.go's env-driven switch.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/voicebridge/internal/config"
	"github.com/lokutor-ai/voicebridge/internal/logging"
	"github.com/lokutor-ai/voicebridge/pkg/conn"
	"github.com/lokutor-ai/voicebridge/pkg/llm"
	"github.com/lokutor-ai/voicebridge/pkg/llmproc"
	"github.com/lokutor-ai/voicebridge/pkg/metrics"
	"github.com/lokutor-ai/voicebridge/pkg/pipeline"
	"github.com/lokutor-ai/voicebridge/pkg/segmenter"
	"github.com/lokutor-ai/voicebridge/pkg/session"
	"github.com/lokutor-ai/voicebridge/pkg/stt"
	"github.com/lokutor-ai/voicebridge/pkg/transport"
	"github.com/lokutor-ai/voicebridge/pkg/tts"
)

func main() {
	cfg, err := config.Load(os.Getenv("VOICEBRIDGE_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config: ", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging: ", err)
		os.Exit(1)
	}
	defer log.Sync()

	rec := metrics.NewRecorder()

	var llamaSup *llmproc.Supervisor
	if cfg.LLM.ExePath != "" && cfg.LLM.ModelPath != "" {
		llamaCfg := llmproc.DefaultConfig(cfg.LLM.ExePath, cfg.LLM.ModelPath)
		llamaCfg.Port = cfg.LLM.Port
		llamaCfg.GPULayers = cfg.LLM.GPULayers
		llamaCfg.ContextSize = cfg.LLM.ContextSize
		llamaCfg.Threads = cfg.LLM.Threads
		llamaCfg.BatchSize = cfg.LLM.BatchSize
		llamaCfg.MLock = cfg.LLM.MLock
		llamaCfg.NoMMap = cfg.LLM.NoMMap

		sup, err := llmproc.New(llamaCfg)
		if err != nil {
			log.Error("llama subprocess unavailable, falling back to cloud LLM", "error", err)
		} else {
			if err := sup.Start(); err != nil {
				log.Error("llama subprocess failed to start, falling back to cloud LLM", "error", err)
			} else {
				llamaSup = sup
				go sup.MonitorLoop(context.Background(), 30*time.Second)
			}
		}
	}

	sttProvider := buildSTTProvider(cfg)
	llmProvider := buildLLMProvider(cfg, llamaSup)
	ttsProvider := buildTTSProvider(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec.GetAllStats())
	})
	mux.HandleFunc("/ws/audio", func(w http.ResponseWriter, r *http.Request) {
		handleAudioConnection(w, r, cfg, log, rec, sttProvider, llmProvider, ttsProvider)
	})

	addr := fmt.Sprintf("%s:%d", cfg.WebSocket.Host, cfg.WebSocket.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info("voicebridge-server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(ctx)

	if llamaSup != nil {
		llamaSup.Stop()
	}
}

// sessionsDir is where pkg/session persists conversation history
// across reconnects, matching audio_processor.py's session_id-keyed
// persistence (spec.md §4.10).
const sessionsDir = "sessions"

func handleAudioConnection(w http.ResponseWriter, r *http.Request, cfg config.Config, log *logging.ZapLogger, rec *metrics.Recorder, sttP pipeline.STTProvider, llmP pipeline.StreamingLLMProvider, ttsP pipeline.TTSProvider) {
	ch, err := transport.Accept(w, r)
	if err != nil {
		log.Warn("websocket accept failed", "error", err)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sess, resumed, err := session.Load(sessionID, sessionsDir)
	if err != nil {
		log.Warn("failed to load session, starting fresh", "session_id", sessionID, "error", err)
		sess = session.New(sessionID)
	}
	log.Info("connection accepted", "session_id", sessionID, "resumed", resumed)

	ctx := context.Background()
	pl := pipeline.New(ctx, pipeline.DefaultConfig(), log, sttP, llmP, ttsP, sess)
	pl.SetMetrics(rec)

	prober := segmenter.NewEnergyProber(segmenter.DefaultConfig().WindowSamples)
	seg := segmenter.New(segmenter.DefaultConfig(), prober)

	sup := conn.New(ch, seg, pl, log)
	if err := sup.Run(ctx); err != nil {
		log.Info("connection ended", "error", err)
	}

	if err := sess.Save(sessionsDir); err != nil {
		log.Warn("failed to save session", "session_id", sessionID, "error", err)
	}
}

func buildSTTProvider(cfg config.Config) pipeline.STTProvider {
	switch cfg.STT.Provider {
	case "openai":
		return stt.NewOpenAIClient(cfg.OpenAIAPIKey, "whisper-1", cfg.Audio.SampleRate)
	case "deepgram":
		return stt.NewDeepgramClient(cfg.DeepgramAPIKey, cfg.Audio.SampleRate)
	case "assemblyai":
		return stt.NewAssemblyAIClient(cfg.AssemblyAIAPIKey, cfg.Audio.SampleRate)
	default:
		return stt.NewGroqClient(cfg.GroqAPIKey, "whisper-large-v3-turbo", cfg.Audio.SampleRate)
	}
}

func buildLLMProvider(cfg config.Config, llamaSup *llmproc.Supervisor) pipeline.StreamingLLMProvider {
	if llamaSup != nil {
		endpoint := llmproc.DefaultConfig(cfg.LLM.ExePath, cfg.LLM.ModelPath)
		endpoint.Port = cfg.LLM.Port
		return llm.NewLocalClient(endpoint.EndpointURL(), 60*time.Second)
	}

	switch os.Getenv("LLM_PROVIDER") {
	case "openai":
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey, "gpt-4o-mini")
	case "anthropic":
		return llm.NewAnthropicClient(cfg.AnthropicAPIKey, "claude-3-5-haiku-latest")
	case "google":
		return llm.NewGoogleClient(cfg.GoogleAPIKey, "gemini-1.5-flash")
	default:
		return llm.NewGroqClient(cfg.GroqAPIKey, "llama-3.1-8b-instant")
	}
}

func buildTTSProvider(cfg config.Config) pipeline.TTSProvider {
	switch cfg.TTS.Provider {
	case "lokutor":
		return tts.NewLokutorClient(cfg.LokutorAPIKey, "")
	case "subprocess":
		if cfg.TTS.ExePath != "" && cfg.TTS.ModelPath != "" {
			synth, err := tts.NewSubprocessSynth(cfg.TTS.ExePath, cfg.TTS.ModelPath, cfg.Audio.SampleRate)
			if err == nil {
				return synth
			}
		}
		fallthrough
	default:
		return tts.NewLokutorClient(cfg.LokutorAPIKey, "")
	}
}
