package ports

import (
	"context"
	"io"
	"time"

	"visitnote/internal/domain"
)

// Sample formats understood by AudioCapture.
const (
	SampleFormatS16LE = "s16le"
	SampleFormatF32LE = "f32le"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate   int
	Channels     int
	SampleFormat string
	InputFormat  string
	InputDevice  string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AudioEncoder packs raw mono PCM16 into a container.
type AudioEncoder interface {
	Encode(ctx context.Context, pcm []byte, sampleRate int) (data []byte, mimeType string, err error)
}

// PlaybackSource is one clip scheduled on a PlaybackDevice.
type PlaybackSource interface {
	Stop()
	Done() <-chan struct{}
}

// PlaybackDevice is an output clock that plays float32 mono clips at scheduled offsets.
type PlaybackDevice interface {
	SampleRate() int
	Now() time.Duration
	Schedule(samples []float32, at time.Duration) (PlaybackSource, error)
	Close() error
}

// PlaybackFactory opens playback devices.
type PlaybackFactory interface {
	Open(ctx context.Context, sampleRate int) (PlaybackDevice, error)
}

// InlineAudio is audio attached to a completion request.
type InlineAudio struct {
	Data     []byte
	MIMEType string
}

// ResponseSchema requests structured JSON output.
type ResponseSchema struct {
	Type       string
	Properties map[string]*ResponseSchema
	Items      *ResponseSchema
	Required   []string
	Enum       []string
}

// CompletionRequest is a single-shot request to the hosted model.
type CompletionRequest struct {
	SystemInstruction string
	Prompt            string
	Audio             *InlineAudio
	Schema            *ResponseSchema
	Temperature       float32
}

// CompletionService answers single-shot requests.
type CompletionService interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// LiveConfig configures a live voice session.
type LiveConfig struct {
	Voice             string
	SystemInstruction string
	InputSampleRate   int
	OutputSampleRate  int
}

// LiveSession is an open bidirectional voice session.
type LiveSession interface {
	SendAudio(pcm []byte) error
	Messages() <-chan domain.LiveMessage
	Wait() error
	Close() error
}

// LiveVoiceService opens live sessions. Connect returns once the session is ready for input.
type LiveVoiceService interface {
	Connect(ctx context.Context, cfg LiveConfig) (LiveSession, error)
}

// KeySource supplies the API key currently in effect.
type KeySource interface {
	APIKey() string
}

// CredentialSelector asks for a fresh credential after an authorization failure.
type CredentialSelector interface {
	Reselect(ctx context.Context) error
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// RecorderSink receives recorder updates.
type RecorderSink interface {
	RecorderChanged(status domain.RecorderStatus)
	RecorderLevels(bars []domain.LevelBar)
}

// LiveSink receives live session updates.
type LiveSink interface {
	LiveChanged(snapshot domain.LiveSnapshot)
}

// ViewSink receives view changes and user-facing alerts.
type ViewSink interface {
	ViewChanged(snapshot domain.ViewSnapshot)
	Alert(code domain.ErrorCode, message string)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	RecorderSink
	LiveSink
	ViewSink
}
