package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"visitnote/internal/domain"
	"visitnote/internal/metrics"
	"visitnote/internal/ports"
	"visitnote/internal/wire"
)

var (
	ErrLiveBusy   = errors.New("live session already active")
	ErrLiveHungUp = errors.New("live session hung up while connecting")
)

// LivePersona is the system instruction for the live voice consultant.
const LivePersona = "あなたは看護歴30年、S級2位ヒーローの「戦慄のお局看護師」です。態度は非常に傲慢で口が悪いですが、指示は的確で、内心は新人を助けたいと思っています。"

// LiveManagerConfig controls live voice sessions.
type LiveManagerConfig struct {
	Audio            ports.AudioConfig
	Voice            string
	OutputSampleRate int
	FrameSamples     int
	QueueSize        int
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
}

// LiveManager owns at most one live voice session.
type LiveManager struct {
	capture     ports.AudioCapture
	playback    ports.PlaybackFactory
	service     ports.LiveVoiceService
	credentials ports.CredentialSelector
	sink        ports.LiveSink
	cfg         LiveManagerConfig
	logger      *slog.Logger

	mu      sync.Mutex
	state   domain.LiveState
	errText string
	current *liveRun
}

func NewLiveManager(
	capture ports.AudioCapture,
	playback ports.PlaybackFactory,
	service ports.LiveVoiceService,
	credentials ports.CredentialSelector,
	sink ports.LiveSink,
	cfg LiveManagerConfig,
) *LiveManager {
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	cfg.Audio.Channels = 1
	cfg.Audio.SampleFormat = ports.SampleFormatF32LE
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = 24000
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = 4096
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.Voice == "" {
		cfg.Voice = "Zephyr"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveManager{
		capture:     capture,
		playback:    playback,
		service:     service,
		credentials: credentials,
		sink:        sink,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "live")),
		state:       domain.LiveStateIdle,
	}
}

// Connect acquires the microphone, the speaker and a live session, then starts streaming.
// It returns once the session is ready for input.
func (m *LiveManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == domain.LiveStateConnecting || m.state == domain.LiveStateConnected {
		m.mu.Unlock()
		return ErrLiveBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	run := newLiveRun(uuid.NewString(), cancel)
	m.current = run
	m.state = domain.LiveStateConnecting
	m.errText = ""
	m.mu.Unlock()

	logger := m.logger.With(slog.String("session_id", run.id))
	logger.Info("Connecting live session")
	m.notify()

	mic, err := m.capture.Start(runCtx, m.cfg.Audio)
	if err != nil {
		if !errors.Is(err, domain.ErrPermission) {
			err = fmt.Errorf("%w: %w", domain.ErrPermission, err)
		}
		return m.fail(run, err)
	}
	if !run.attachMic(mic) {
		_ = mic.Stop()
		return ErrLiveHungUp
	}

	device, err := m.playback.Open(runCtx, m.cfg.OutputSampleRate)
	if err != nil {
		return m.fail(run, fmt.Errorf("failed to open playback: %w", err))
	}
	scheduler := newPlaybackScheduler(device, func(bool) { m.notifyRun(run) })
	if !run.attachPlayback(scheduler) {
		_ = device.Close()
		return ErrLiveHungUp
	}

	session, err := m.service.Connect(runCtx, ports.LiveConfig{
		Voice:             m.cfg.Voice,
		SystemInstruction: LivePersona,
		InputSampleRate:   m.cfg.Audio.SampleRate,
		OutputSampleRate:  m.cfg.OutputSampleRate,
	})
	if err != nil {
		return m.fail(run, err)
	}
	if !run.attachSession(session) {
		_ = session.Close()
		return ErrLiveHungUp
	}

	m.mu.Lock()
	if m.current != run {
		m.mu.Unlock()
		m.release(run)
		return ErrLiveHungUp
	}
	m.state = domain.LiveStateConnected

	run.mu.Lock()
	run.connected = true
	run.queue = newFrameQueue(m.cfg.QueueSize, m.countDrop)
	run.pumpDone = make(chan struct{})
	run.sendDone = make(chan struct{})
	run.consumeDone = make(chan struct{})
	run.mu.Unlock()
	m.mu.Unlock()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.LiveActive.Inc()
	}

	go pumpMicrophoneFrames(mic, run.queue, m.cfg.FrameSamples, logger, run.pumpDone)
	go sendQueuedFrames(run.queue, session, m.countSent, logger, run.sendDone)
	go m.consume(run, session, logger)

	logger.Info("Live session connected")
	m.notify()
	return nil
}

// HangUp ends the session from any state and clears the transcript. Safe to call repeatedly.
func (m *LiveManager) HangUp() {
	m.mu.Lock()
	run := m.current
	changed := run != nil || m.state != domain.LiveStateIdle
	m.current = nil
	m.state = domain.LiveStateIdle
	m.errText = ""
	m.mu.Unlock()

	if run != nil {
		if m.release(run) {
			m.countSession("hangup")
		}
		run.mu.Lock()
		consumeDone := run.consumeDone
		run.mu.Unlock()
		if consumeDone != nil {
			<-consumeDone
		}
		m.logger.Info("Live session hung up", slog.String("session_id", run.id))
	}
	if changed {
		m.notify()
	}
}

// Snapshot returns the current live view state.
func (m *LiveManager) Snapshot() domain.LiveSnapshot {
	m.mu.Lock()
	state, errText, run := m.state, m.errText, m.current
	m.mu.Unlock()

	snap := domain.LiveSnapshot{State: state, Error: errText, Log: []domain.LiveTranscriptEntry{}}
	if run == nil {
		return snap
	}
	snap.SessionID = run.id
	snap.Log = run.transcript.Log()
	snap.TypingLocal, snap.TypingRemote = run.transcript.Typing()
	if playback := run.scheduler(); playback != nil {
		snap.Playing = playback.Playing()
	}
	return snap
}

func (m *LiveManager) State() domain.LiveState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *LiveManager) consume(run *liveRun, session ports.LiveSession, logger *slog.Logger) {
	defer close(run.consumeDone)

	for msg := range session.Messages() {
		m.handleMessage(run, msg, logger)
	}
	m.finish(run, session.Wait(), logger)
}

func (m *LiveManager) handleMessage(run *liveRun, msg domain.LiveMessage, logger *slog.Logger) {
	playback := run.scheduler()

	if msg.Interrupted && playback != nil {
		playback.Interrupt()
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.LiveInterruptions.Inc()
		}
	}

	for _, audio := range msg.Audio {
		pcm, err := wire.DecodeFromWire(audio.Data)
		if err != nil {
			logger.Warn("Dropping undecodable audio", slog.String("mime_type", audio.MIMEType), slog.String("error", err.Error()))
			continue
		}
		if playback == nil {
			continue
		}
		if _, err := playback.Enqueue(wire.PCM16ToFloat32(pcm)); err != nil {
			logger.Warn("Failed to schedule audio", slog.String("error", err.Error()))
			continue
		}
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.LiveClipsScheduled.Inc()
		}
	}

	if run.transcript.Add(msg) && m.cfg.Metrics != nil {
		m.cfg.Metrics.LiveTurns.Inc()
	}
	m.notifyRun(run)
}

// finish handles the end of a session that was not hung up locally.
func (m *LiveManager) finish(run *liveRun, err error, logger *slog.Logger) {
	m.mu.Lock()
	current := m.current == run
	m.mu.Unlock()
	if !current {
		return
	}

	m.release(run)

	if err == nil {
		logger.Info("Live session closed by remote")
		m.countSession("closed")
		m.setState(run, domain.LiveStateIdle, "")
		return
	}

	logger.Error("Live session failed", slog.String("error", err.Error()))
	m.countSession("error")
	m.reselectIfCredential(err, logger)
	m.setState(run, domain.LiveStateError, err.Error())
}

// fail releases a run that could not connect.
func (m *LiveManager) fail(run *liveRun, err error) error {
	m.release(run)

	logger := m.logger.With(slog.String("session_id", run.id))
	logger.Error("Live session failed to connect", slog.String("error", err.Error()))
	m.countSession("error")
	m.reselectIfCredential(err, logger)
	m.setState(run, domain.LiveStateError, err.Error())
	return err
}

func (m *LiveManager) reselectIfCredential(err error, logger *slog.Logger) {
	if !errors.Is(err, domain.ErrCredential) || m.credentials == nil {
		return
	}
	if reselectErr := m.credentials.Reselect(context.Background()); reselectErr != nil {
		logger.Warn("Credential reselection failed", slog.String("error", reselectErr.Error()))
	}
}

func (m *LiveManager) setState(run *liveRun, state domain.LiveState, errText string) {
	m.mu.Lock()
	if m.current != run {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.errText = errText
	m.mu.Unlock()
	m.notify()
}

func (m *LiveManager) release(run *liveRun) bool {
	wasConnected := run.release(func(what string, err error) {
		m.logger.Warn("Failed to release live resource",
			slog.String("session_id", run.id),
			slog.String("resource", what),
			slog.String("error", err.Error()))
	})
	if wasConnected && m.cfg.Metrics != nil {
		m.cfg.Metrics.LiveActive.Dec()
	}
	return wasConnected
}

func (m *LiveManager) notifyRun(run *liveRun) {
	m.mu.Lock()
	current := m.current == run
	m.mu.Unlock()
	if current {
		m.notify()
	}
}

func (m *LiveManager) notify() {
	if m.sink != nil {
		m.sink.LiveChanged(m.Snapshot())
	}
}

func (m *LiveManager) countSession(result string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.LiveSessions.WithLabelValues(result).Inc()
	}
}

func (m *LiveManager) countSent() {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.LiveFramesSent.Inc()
	}
}

func (m *LiveManager) countDrop() {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.LiveFramesDropped.Inc()
	}
}
