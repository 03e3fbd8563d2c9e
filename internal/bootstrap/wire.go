package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"visitnote/internal/analysis"
	"visitnote/internal/audio"
	"visitnote/internal/config"
	"visitnote/internal/credentials"
	"visitnote/internal/domain"
	"visitnote/internal/metrics"
	"visitnote/internal/ports"
	"visitnote/internal/providers/gemini"
	"visitnote/internal/providers/openai"
	"visitnote/internal/rules"
	"visitnote/internal/usecase"
)

// Options selects the configuration file and the surface-specific adapters.
type Options struct {
	ConfigPath string
	Events     ports.EventSink
	Clipboard  ports.Clipboard
	LogOutput  io.Writer
}

// Services is the assembled runtime graph.
type Services struct {
	Config       config.Config
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Credentials  *credentials.Store
	Analysis     *analysis.Client
	Recorder     *usecase.Recorder
	Live         *usecase.LiveManager
	Orchestrator *usecase.Orchestrator
}

// Build wires all backend dependencies for the current runtime.
func Build(opts Options) (Services, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return Services{}, err
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := NewLogger(cfg.Log, out)
	m := metrics.New()

	normalizer, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}
	if normalizer.Len() > 0 {
		logger.Info("Loaded note rules", slog.String("path", cfg.Rules.Path), slog.Int("rules", normalizer.Len()))
	}

	store := credentials.NewStore(cfg.Provider.APIKey, logger)
	completion, err := newCompletion(cfg, store)
	if err != nil {
		return Services{}, err
	}
	client := analysis.NewClient(completion, analysis.Config{
		Normalizer: normalizer,
		Logger:     logger,
		Metrics:    m,
	})

	liveKeys := ports.KeySource(store)
	if cfg.Provider.Name != config.ProviderGemini {
		liveKeys = credentials.NewStore(cfg.Live.APIKey, logger)
	}

	capture := audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand)
	captureCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    1,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}

	var events ports.EventSink = noopEvents{}
	if opts.Events != nil {
		events = opts.Events
	}

	live := usecase.NewLiveManager(
		capture,
		audio.NewFFPlayFactory(cfg.Audio.PlayerCommand),
		gemini.NewLive(liveKeys, gemini.LiveConfig{
			URL:    cfg.Live.WebsocketURL,
			Model:  cfg.Live.Model,
			Logger: logger,
		}),
		store,
		events,
		usecase.LiveManagerConfig{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Live.InputSampleRate,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Voice:            cfg.Live.Voice,
			OutputSampleRate: cfg.Live.OutputSampleRate,
			FrameSamples:     cfg.Live.FrameSamples,
			QueueSize:        cfg.Live.QueueSize,
			Logger:           logger,
			Metrics:          m,
		},
	)

	// The recorder and the orchestrator refer to each other: the orchestrator releases the
	// microphone before going live, and the recorder hands it finished input.
	var orchestrator *usecase.Orchestrator
	recorder := usecase.NewRecorder(
		capture,
		newEncoder(cfg),
		events,
		func(ctx context.Context, rec *domain.Recording, note string) {
			orchestrator.HandleRecording(ctx, rec, note)
		},
		usecase.RecorderConfig{
			Audio:     captureCfg,
			ChunkSize: cfg.Recorder.ChunkSize,
			Busy:      func() bool { return orchestrator.Processing() },
			Logger:    logger,
			Metrics:   m,
		},
	)
	orchestrator = usecase.NewOrchestrator(client, live, recorder, opts.Clipboard, events, logger)

	logger.Info("Services ready",
		slog.String("provider", cfg.Provider.Name),
		slog.String("container", cfg.Recorder.Container),
		slog.Bool("credential", store.Configured()))

	return Services{
		Config:       cfg,
		Logger:       logger,
		Metrics:      m,
		Credentials:  store,
		Analysis:     client,
		Recorder:     recorder,
		Live:         live,
		Orchestrator: orchestrator,
	}, nil
}

// NewLogger builds the process logger from the log section of the config.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newCompletion(cfg config.Config, keys ports.KeySource) (ports.CompletionService, error) {
	switch cfg.Provider.Name {
	case config.ProviderGemini:
		return gemini.NewCompletion(keys, gemini.CompletionConfig{
			Model:      cfg.Provider.Model,
			APIBaseURL: cfg.Provider.APIBaseURL,
		}), nil
	case config.ProviderOpenAI:
		return openai.NewCompletion(keys, openai.Config{
			Model:        cfg.Provider.OpenAIModel,
			WhisperModel: cfg.Provider.WhisperModel,
			APIBaseURL:   cfg.Provider.APIBaseURL,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider.Name)
	}
}

func newEncoder(cfg config.Config) ports.AudioEncoder {
	if cfg.Recorder.Container == "wav" {
		return audio.NewWAVEncoder()
	}
	return audio.NewFFMPEGEncoder(cfg.Audio.RecorderCommand, cfg.Recorder.Bitrate)
}
