package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config stores runtime configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Live     LiveConfig     `yaml:"live"`
	Audio    AudioConfig    `yaml:"audio"`
	Recorder RecorderConfig `yaml:"recorder"`
	Rules    RulesConfig    `yaml:"rules"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ProviderConfig struct {
	Name         string `yaml:"name"`
	APIKey       string `yaml:"api_key"`
	APIBaseURL   string `yaml:"api_base_url"`
	Model        string `yaml:"model"`
	OpenAIModel  string `yaml:"openai_model"`
	WhisperModel string `yaml:"whisper_model"`
}

type LiveConfig struct {
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	Voice            string `yaml:"voice"`
	WebsocketURL     string `yaml:"websocket_url"`
	InputSampleRate  int    `yaml:"input_sample_rate"`
	OutputSampleRate int    `yaml:"output_sample_rate"`
	FrameSamples     int    `yaml:"frame_samples"`
	QueueSize        int    `yaml:"queue_size"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	PlayerCommand   string `yaml:"player_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
}

type RecorderConfig struct {
	Container string `yaml:"container"`
	Bitrate   int    `yaml:"bitrate"`
	ChunkSize int    `yaml:"chunk_size"`
}

type RulesConfig struct {
	Path           string `yaml:"path"`
	IterationLimit int    `yaml:"iteration_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Defaults returns the configuration used when neither file nor environment set a value.
func Defaults() Config {
	return Config{
		Provider: ProviderConfig{
			Name:         ProviderGemini,
			Model:        "gemini-3-pro-preview",
			OpenAIModel:  "gpt-4o",
			WhisperModel: "whisper-1",
		},
		Live: LiveConfig{
			Model:            "gemini-2.5-flash-native-audio-preview-09-2025",
			Voice:            "Zephyr",
			WebsocketURL:     "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
			FrameSamples:     4096,
			QueueSize:        32,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			PlayerCommand:   "ffplay",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
		},
		Recorder: RecorderConfig{
			Container: "webm",
			Bitrate:   16000,
			ChunkSize: 4096,
		},
		Rules: RulesConfig{
			IterationLimit: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file and environment variables, in that order.
// A .env file in the working directory is loaded first; variables already set win over it.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Defaults()

	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv("VISITNOTE_CONFIG"))
	}
	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if home, err := os.UserHomeDir(); err == nil && cfg.Rules.Path == "" {
		cfg.Rules.Path = filepath.Join(home, ".config", "visitnote", "abbreviations.rules")
	}

	applyEnv(&cfg)
	normalize(&cfg)

	if cfg.Provider.Name != ProviderGemini && cfg.Provider.Name != ProviderOpenAI {
		return Config{}, fmt.Errorf("unsupported provider %q", cfg.Provider.Name)
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Provider.Name = strings.ToLower(envOrDefault("VISITNOTE_PROVIDER", cfg.Provider.Name))
	vendorKey := os.Getenv("GEMINI_API_KEY")
	if cfg.Provider.Name == ProviderOpenAI {
		vendorKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.Provider.APIKey = firstNonEmpty(
		os.Getenv("VISITNOTE_API_KEY"),
		vendorKey,
		os.Getenv("API_KEY"),
		cfg.Provider.APIKey,
	)
	cfg.Provider.APIBaseURL = envOrDefault("VISITNOTE_API_BASE", cfg.Provider.APIBaseURL)
	cfg.Provider.Model = envOrDefault("VISITNOTE_MODEL", cfg.Provider.Model)
	cfg.Provider.OpenAIModel = envOrDefault("VISITNOTE_OPENAI_MODEL", cfg.Provider.OpenAIModel)
	cfg.Provider.WhisperModel = envOrDefault("VISITNOTE_WHISPER_MODEL", cfg.Provider.WhisperModel)

	// Live sessions always talk to Gemini, whichever provider serves analysis.
	cfg.Live.APIKey = firstNonEmpty(os.Getenv("VISITNOTE_LIVE_API_KEY"), os.Getenv("GEMINI_API_KEY"), cfg.Live.APIKey)
	cfg.Live.Model = envOrDefault("VISITNOTE_LIVE_MODEL", cfg.Live.Model)
	cfg.Live.Voice = envOrDefault("VISITNOTE_LIVE_VOICE", cfg.Live.Voice)
	cfg.Live.WebsocketURL = envOrDefault("VISITNOTE_LIVE_URL", cfg.Live.WebsocketURL)
	cfg.Live.QueueSize = envOrDefaultInt("VISITNOTE_LIVE_QUEUE_SIZE", cfg.Live.QueueSize)

	cfg.Audio.RecorderCommand = envOrDefault("VISITNOTE_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.PlayerCommand = envOrDefault("VISITNOTE_FFPLAY_COMMAND", cfg.Audio.PlayerCommand)
	cfg.Audio.InputFormat = envOrDefault("VISITNOTE_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = envOrDefault("VISITNOTE_AUDIO_INPUT_DEVICE", cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("VISITNOTE_SAMPLE_RATE", cfg.Audio.SampleRate)

	cfg.Recorder.Container = strings.ToLower(envOrDefault("VISITNOTE_RECORDER_CONTAINER", cfg.Recorder.Container))
	cfg.Recorder.ChunkSize = envOrDefaultInt("VISITNOTE_AUDIO_CHUNK_SIZE", cfg.Recorder.ChunkSize)

	cfg.Rules.Path = envOrDefault("VISITNOTE_RULES_FILE", cfg.Rules.Path)
	cfg.Rules.IterationLimit = envOrDefaultInt("VISITNOTE_RULE_ITERATION_LIMIT", cfg.Rules.IterationLimit)

	cfg.Log.Level = strings.ToLower(envOrDefault("VISITNOTE_LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(envOrDefault("VISITNOTE_LOG_FORMAT", cfg.Log.Format))
	cfg.Metrics.Address = envOrDefault("VISITNOTE_METRICS_ADDR", cfg.Metrics.Address)
}

func normalize(cfg *Config) {
	defaults := Defaults()
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = defaults.Provider.Name
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = defaults.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = defaults.Audio.Channels
	}
	if cfg.Live.InputSampleRate <= 0 {
		cfg.Live.InputSampleRate = defaults.Live.InputSampleRate
	}
	if cfg.Live.OutputSampleRate <= 0 {
		cfg.Live.OutputSampleRate = defaults.Live.OutputSampleRate
	}
	if cfg.Live.FrameSamples < 256 {
		cfg.Live.FrameSamples = defaults.Live.FrameSamples
	}
	if cfg.Live.QueueSize <= 0 {
		cfg.Live.QueueSize = defaults.Live.QueueSize
	}
	if cfg.Recorder.Container != "wav" && cfg.Recorder.Container != "webm" {
		cfg.Recorder.Container = defaults.Recorder.Container
	}
	if cfg.Recorder.Bitrate <= 0 {
		cfg.Recorder.Bitrate = defaults.Recorder.Bitrate
	}
	if cfg.Recorder.ChunkSize < 256 {
		cfg.Recorder.ChunkSize = defaults.Recorder.ChunkSize
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = defaults.Rules.IterationLimit
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
