package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"visitnote/internal/domain"
	"visitnote/internal/metrics"
	"visitnote/internal/ports"
	"visitnote/internal/wire"
)

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
	ErrTextRejected     = errors.New("text can only be submitted while idle with a non-empty note")
	ErrRecorderClosed   = errors.New("recorder closed while starting")
)

// MicrophoneErrorMessage is displayed when capture cannot start.
const MicrophoneErrorMessage = "マイク接続不能。ヒーロー協会に連絡せよ。"

// RecordingHandler receives a finished recording (nil for text-only submissions) and the current note.
type RecordingHandler func(ctx context.Context, rec *domain.Recording, note string)

// RecorderConfig controls single-shot capture. Busy, when set, blocks new input while it returns true.
type RecorderConfig struct {
	Audio     ports.AudioConfig
	ChunkSize int
	Tick      time.Duration
	Busy      func() bool
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Recorder captures one visit recording at a time.
type Recorder struct {
	capture ports.AudioCapture
	encoder ports.AudioEncoder
	sink    ports.RecorderSink
	onDone  RecordingHandler
	cfg     RecorderConfig
	logger  *slog.Logger

	mu       sync.Mutex
	state    domain.RecorderState
	starting bool
	aborted  bool
	note     string
	errText  string
	elapsed  int
	current  *recordingRun
}

func NewRecorder(
	capture ports.AudioCapture,
	encoder ports.AudioEncoder,
	sink ports.RecorderSink,
	onDone RecordingHandler,
	cfg RecorderConfig,
) *Recorder {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	cfg.Audio.Channels = 1
	cfg.Audio.SampleFormat = ports.SampleFormatS16LE
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		capture: capture,
		encoder: encoder,
		sink:    sink,
		onDone:  onDone,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "recorder")),
		state:   domain.RecorderStateIdle,
	}
}

// Start opens the microphone and begins buffering audio.
func (r *Recorder) Start(ctx context.Context) error {
	if r.busy() {
		return ErrBusy
	}

	r.mu.Lock()
	if r.state == domain.RecorderStateRecording || r.starting {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.starting = true
	r.aborted = false
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	audio, err := r.capture.Start(runCtx, r.cfg.Audio)
	if err != nil {
		cancel()
		r.mu.Lock()
		r.starting = false
		r.errText = MicrophoneErrorMessage
		r.mu.Unlock()
		r.logger.Error("Microphone unavailable", slog.String("error", err.Error()))
		r.notify()
		if !errors.Is(err, domain.ErrPermission) {
			err = fmt.Errorf("%w: %w", domain.ErrPermission, err)
		}
		return fmt.Errorf("%s: %w", MicrophoneErrorMessage, err)
	}

	run := &recordingRun{
		cancel:   cancel,
		audio:    audio,
		stopTick: make(chan struct{}),
		pumpDone: make(chan struct{}),
		tickDone: make(chan struct{}),
	}

	r.mu.Lock()
	r.starting = false
	if r.aborted {
		r.mu.Unlock()
		if err := audio.Stop(); err != nil {
			r.logger.Warn("Failed to stop audio capture cleanly", slog.String("error", err.Error()))
		}
		cancel()
		return ErrRecorderClosed
	}
	r.state = domain.RecorderStateRecording
	r.errText = ""
	r.elapsed = 0
	r.current = run
	r.mu.Unlock()

	go r.pump(run)
	go r.tick(run)

	r.logger.Info("Recording started")
	r.notify()
	return nil
}

// Stop ends capture, encodes the buffered audio and hands it to the completion handler.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != domain.RecorderStateRecording || r.current == nil {
		r.mu.Unlock()
		return ErrNotRecording
	}
	run := r.current
	r.current = nil
	r.state = domain.RecorderStateIdle
	note := r.note
	r.mu.Unlock()

	r.release(run)
	r.notify()

	pcm := run.pcm()
	var rec *domain.Recording
	if len(pcm) > 0 {
		data, mimeType, err := r.encoder.Encode(ctx, pcm, r.cfg.Audio.SampleRate)
		if err != nil {
			r.mu.Lock()
			r.errText = "録音の変換に失敗: " + err.Error()
			r.mu.Unlock()
			r.notify()
			return fmt.Errorf("failed to finalize recording: %w", err)
		}
		rec = &domain.Recording{
			Data:     data,
			MIMEType: mimeType,
			Duration: wire.Duration(len(pcm)/2, r.cfg.Audio.SampleRate),
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.Recordings.Inc()
			r.cfg.Metrics.RecordingDuration.Observe(rec.Duration.Seconds())
		}
	}

	r.logger.Info("Recording stopped", slog.Int("pcm_bytes", len(pcm)))
	if r.onDone != nil {
		r.onDone(ctx, rec, note)
	}
	return nil
}

// SetNote replaces the free-text note.
func (r *Recorder) SetNote(text string) {
	r.mu.Lock()
	r.note = text
	r.mu.Unlock()
}

// SubmitText hands the note to the completion handler without audio.
func (r *Recorder) SubmitText(ctx context.Context) error {
	if r.busy() {
		return ErrBusy
	}

	r.mu.Lock()
	if r.state == domain.RecorderStateRecording || r.starting || strings.TrimSpace(r.note) == "" {
		r.mu.Unlock()
		return ErrTextRejected
	}
	note := r.note
	r.mu.Unlock()

	if r.onDone != nil {
		r.onDone(ctx, nil, note)
	}
	return nil
}

// Close abandons any recording in progress, including one still opening the microphone. Safe to call repeatedly.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.starting {
		r.aborted = true
	}
	run := r.current
	r.current = nil
	wasRecording := r.state == domain.RecorderStateRecording
	r.state = domain.RecorderStateIdle
	r.mu.Unlock()

	if run != nil {
		r.release(run)
	}
	if wasRecording {
		r.notify()
	}
}

// Status returns a snapshot for display.
func (r *Recorder) Status() domain.RecorderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.RecorderStatus{
		State:          r.state,
		ElapsedSeconds: r.elapsed,
		ElapsedLabel:   formatElapsed(r.elapsed),
		Note:           r.note,
		Error:          r.errText,
	}
}

func (r *Recorder) busy() bool {
	return r.cfg.Busy != nil && r.cfg.Busy()
}

func (r *Recorder) release(run *recordingRun) {
	run.stopOnce.Do(func() {
		close(run.stopTick)
		if err := run.audio.Stop(); err != nil {
			r.logger.Warn("Failed to stop audio capture cleanly", slog.String("error", err.Error()))
		}
		<-run.pumpDone
		<-run.tickDone
		run.cancel()
	})
}

func (r *Recorder) pump(run *recordingRun) {
	defer close(run.pumpDone)

	buf := make([]byte, r.cfg.ChunkSize)
	for {
		n, err := run.audio.Read(buf)
		if n > 0 {
			run.append(buf[:n])
			if r.sink != nil {
				r.sink.RecorderLevels(computeLevels(buf[:n]))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				r.logger.Warn("Audio capture read failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (r *Recorder) tick(run *recordingRun) {
	defer close(run.tickDone)

	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-run.stopTick:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.current != run {
				r.mu.Unlock()
				return
			}
			r.elapsed++
			r.mu.Unlock()
			r.notify()
		}
	}
}

func (r *Recorder) notify() {
	if r.sink != nil {
		r.sink.RecorderChanged(r.Status())
	}
}

func formatElapsed(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

type recordingRun struct {
	cancel context.CancelFunc
	audio  ports.AudioSession

	bufMu sync.Mutex
	buf   bytes.Buffer

	stopOnce sync.Once
	stopTick chan struct{}
	pumpDone chan struct{}
	tickDone chan struct{}
}

func (r *recordingRun) append(chunk []byte) {
	r.bufMu.Lock()
	r.buf.Write(chunk)
	r.bufMu.Unlock()
}

func (r *recordingRun) pcm() []byte {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	return append([]byte(nil), r.buf.Bytes()...)
}
