// Package config loads voicebridge's server/client configuration from
// a YAML file, overridable by environment variables, grounded on
// original_source/server/config.py's per-section dataclasses
// (LlamaConfig, PiperConfig, WhisperConfig, VADConfig, WebSocketConfig,
// AudioConfig, LoggingConfig).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LLM mirrors LlamaConfig.
type LLM struct {
	ExePath     string `yaml:"exe_path"`
	ModelPath   string `yaml:"model_path"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	GPULayers   int    `yaml:"gpu_layers"`
	ContextSize int    `yaml:"context_size"`
	Threads     int    `yaml:"threads"`
	BatchSize   int    `yaml:"batch_size"`
	MLock       bool   `yaml:"mlock"`
	NoMMap      bool   `yaml:"no_mmap"`
}

// TTS mirrors PiperConfig.
type TTS struct {
	ExePath   string `yaml:"exe_path"`
	ModelPath string `yaml:"model_path"`
	Provider  string `yaml:"provider"`
}

// STT mirrors WhisperConfig.
type STT struct {
	Provider  string `yaml:"provider"`
	ModelSize string `yaml:"model_size"`
	Device    string `yaml:"device"`
}

// VAD mirrors VADConfig.
type VAD struct {
	SpeechThreshold       float64 `yaml:"speech_threshold"`
	SilenceThreshold      float64 `yaml:"silence_threshold"`
	SilenceFramesRequired int     `yaml:"silence_frames_required"`
	MinUtteranceSeconds   float64 `yaml:"min_utterance_seconds"`
	MaxUtteranceSeconds   float64 `yaml:"max_utterance_seconds"`
}

// WebSocket mirrors WebSocketConfig.
type WebSocket struct {
	Host                     string  `yaml:"host"`
	Port                     int     `yaml:"port"`
	AudioQueueMaxSize        int     `yaml:"audio_queue_maxsize"`
	EventQueueMaxSize        int     `yaml:"event_queue_maxsize"`
	HeartbeatIntervalSeconds float64 `yaml:"heartbeat_interval_seconds"`
}

// Audio mirrors AudioConfig.
type Audio struct {
	SampleRate     int `yaml:"sample_rate"`
	Channels       int `yaml:"channels"`
	BytesPerSample int `yaml:"bytes_per_sample"`
}

// Logging mirrors LoggingConfig.
type Logging struct {
	Level            string  `yaml:"level"`
	RateLimitSeconds float64 `yaml:"rate_limit_seconds"`
}

// Config is the top-level document, mirroring config.py's CONFIG dict.
type Config struct {
	LLM       LLM       `yaml:"llm"`
	TTS       TTS       `yaml:"tts"`
	STT       STT       `yaml:"stt"`
	VAD       VAD       `yaml:"vad"`
	WebSocket WebSocket `yaml:"websocket"`
	Audio     Audio     `yaml:"audio"`
	Logging   Logging   `yaml:"logging"`

	// API keys never live in the YAML file; they are sourced from the
	// environment (optionally via a .env file) exactly as the teacher's
	// main.go does with os.Getenv, never written back out.
	GroqAPIKey       string `yaml:"-"`
	OpenAIAPIKey     string `yaml:"-"`
	AnthropicAPIKey  string `yaml:"-"`
	GoogleAPIKey     string `yaml:"-"`
	DeepgramAPIKey   string `yaml:"-"`
	AssemblyAIAPIKey string `yaml:"-"`
	LokutorAPIKey    string `yaml:"-"`
}

// Default mirrors config.py's dataclass field defaults.
func Default() Config {
	return Config{
		LLM: LLM{
			Host:        "0.0.0.0",
			Port:        8080,
			GPULayers:   -1,
			ContextSize: 8192,
			Threads:     12,
			BatchSize:   2048,
			MLock:       true,
			NoMMap:      true,
		},
		STT: STT{
			Provider:  "groq",
			ModelSize: "small.en",
			Device:    "cuda",
		},
		TTS: TTS{Provider: "subprocess"},
		VAD: VAD{
			SpeechThreshold:       0.45,
			SilenceThreshold:      0.35,
			SilenceFramesRequired: 10,
			MinUtteranceSeconds:   0.5,
			MaxUtteranceSeconds:   12.0,
		},
		WebSocket: WebSocket{
			Host:                     "0.0.0.0",
			Port:                     8000,
			AudioQueueMaxSize:        200,
			EventQueueMaxSize:        200,
			HeartbeatIntervalSeconds: 30.0,
		},
		Audio: Audio{
			SampleRate:     16000,
			Channels:       1,
			BytesPerSample: 4,
		},
		Logging: Logging{Level: "INFO", RateLimitSeconds: 5.0},
	}
}

// Load reads path's YAML document over Default()'s baseline, then
// applies environment variable overrides (including API keys, which
// only ever come from the environment), mirroring config.py's module-
// level CONFIG construction: dataclass defaults first, os.getenv
// overrides second.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.LLM.ExePath, "LLAMA_EXE_PATH")
	overrideString(&cfg.LLM.ModelPath, "LLAMA_MODEL_PATH")
	overrideInt(&cfg.LLM.Port, "LLAMA_PORT")

	overrideString(&cfg.TTS.ExePath, "PIPER_EXE_PATH")
	overrideString(&cfg.TTS.ModelPath, "PIPER_MODEL_PATH")
	overrideString(&cfg.TTS.Provider, "TTS_PROVIDER")

	overrideString(&cfg.STT.Provider, "STT_PROVIDER")

	overrideString(&cfg.WebSocket.Host, "WEBSOCKET_HOST")
	overrideInt(&cfg.WebSocket.Port, "WEBSOCKET_PORT")

	overrideString(&cfg.Logging.Level, "LOG_LEVEL")

	cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv("DEEPGRAM_API_KEY")
	cfg.AssemblyAIAPIKey = os.Getenv("ASSEMBLYAI_API_KEY")
	cfg.LokutorAPIKey = os.Getenv("LOKUTOR_API_KEY")
}

func overrideString(field *string, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		*field = v
	}
}

func overrideInt(field *int, envVar string) {
	v := os.Getenv(envVar)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*field = n
	}
}
