package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"visitnote/internal/domain"
	"visitnote/internal/ports"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	configs  []ports.AudioConfig
	err      error
}

func (f *fakeAudioCapture) Start(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.sessions) == 0 {
		return &fakeAudioSession{}, nil
	}
	session := f.sessions[0]
	f.sessions = f.sessions[1:]
	return session, nil
}

func (f *fakeAudioCapture) startCalls() []ports.AudioConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.AudioConfig(nil), f.configs...)
}

type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	stopCalls int
	stopErr   error
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index >= len(f.chunks) {
		return 0, io.EOF
	}
	n := copy(p, f.chunks[f.index])
	f.index++
	return n, nil
}

func (f *fakeAudioSession) Close() error { return nil }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

// heldCapture hands out sessions that block until stopped and tracks how many are open at once.
type heldCapture struct {
	mu      sync.Mutex
	open    int
	peak    int
	gate    chan struct{}
	entered chan struct{}
}

func (c *heldCapture) Start(context.Context, ports.AudioConfig) (ports.AudioSession, error) {
	c.mu.Lock()
	entered, gate := c.entered, c.gate
	c.entered = nil
	c.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	c.open++
	if c.open > c.peak {
		c.peak = c.open
	}
	c.mu.Unlock()
	return &heldSession{capture: c, stopped: make(chan struct{})}, nil
}

func (c *heldCapture) held() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open, c.peak
}

type heldSession struct {
	capture *heldCapture
	once    sync.Once
	stopped chan struct{}
}

func (s *heldSession) Read([]byte) (int, error) {
	<-s.stopped
	return 0, io.EOF
}

func (s *heldSession) Stop() error {
	s.once.Do(func() {
		close(s.stopped)
		s.capture.mu.Lock()
		s.capture.open--
		s.capture.mu.Unlock()
	})
	return nil
}

func (s *heldSession) Close() error { return s.Stop() }

type fakeEncoder struct {
	mu    sync.Mutex
	calls int
	pcm   []byte
	rate  int
	err   error
}

func (f *fakeEncoder) Encode(_ context.Context, pcm []byte, sampleRate int) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.pcm = append([]byte(nil), pcm...)
	f.rate = sampleRate
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("encoded"), "audio/webm", nil
}

type fakeRecorderSink struct {
	mu       sync.Mutex
	statuses []domain.RecorderStatus
	levels   [][]domain.LevelBar
}

func (f *fakeRecorderSink) RecorderChanged(status domain.RecorderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func (f *fakeRecorderSink) RecorderLevels(bars []domain.LevelBar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels = append(f.levels, bars)
}

func (f *fakeRecorderSink) levelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.levels)
}

type scheduledClip struct {
	at      time.Duration
	samples int
	source  *fakePlaybackSource
}

type fakePlaybackDevice struct {
	mu          sync.Mutex
	rate        int
	now         time.Duration
	clips       []scheduledClip
	scheduleErr error
	closeCalls  int
}

func newFakePlaybackDevice(rate int) *fakePlaybackDevice {
	return &fakePlaybackDevice{rate: rate}
}

func (f *fakePlaybackDevice) SampleRate() int { return f.rate }

func (f *fakePlaybackDevice) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakePlaybackDevice) setNow(now time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func (f *fakePlaybackDevice) Schedule(samples []float32, at time.Duration) (ports.PlaybackSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	src := &fakePlaybackSource{done: make(chan struct{})}
	f.clips = append(f.clips, scheduledClip{at: at, samples: len(samples), source: src})
	return src, nil
}

func (f *fakePlaybackDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakePlaybackDevice) scheduled() []scheduledClip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduledClip(nil), f.clips...)
}

func (f *fakePlaybackDevice) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakePlaybackSource struct {
	mu        sync.Mutex
	stopCalls int
	once      sync.Once
	done      chan struct{}
}

func (f *fakePlaybackSource) Stop() {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	f.finish()
}

func (f *fakePlaybackSource) Done() <-chan struct{} { return f.done }

func (f *fakePlaybackSource) finish() {
	f.once.Do(func() { close(f.done) })
}

func (f *fakePlaybackSource) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakePlaybackFactory struct {
	mu     sync.Mutex
	device *fakePlaybackDevice
	rates  []int
	err    error
}

func (f *fakePlaybackFactory) Open(_ context.Context, sampleRate int) (ports.PlaybackDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates = append(f.rates, sampleRate)
	if f.err != nil {
		return nil, f.err
	}
	if f.device == nil {
		f.device = newFakePlaybackDevice(sampleRate)
	}
	return f.device, nil
}

type fakeLiveService struct {
	mu      sync.Mutex
	session *fakeLiveSession
	configs []ports.LiveConfig
	err     error
}

func (f *fakeLiveService) Connect(_ context.Context, cfg ports.LiveConfig) (ports.LiveSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	if f.session == nil {
		f.session = newFakeLiveSession()
	}
	return f.session, nil
}

func (f *fakeLiveService) connectCalls() []ports.LiveConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.LiveConfig(nil), f.configs...)
}

type fakeLiveSession struct {
	mu       sync.Mutex
	messages chan domain.LiveMessage
	sent     [][]byte
	sendErr  error
	closed   bool
	ended    bool
	endErr   error
}

func newFakeLiveSession() *fakeLiveSession {
	return &fakeLiveSession{messages: make(chan domain.LiveMessage, 16)}
}

func (f *fakeLiveSession) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		err := f.sendErr
		f.sendErr = nil
		return err
	}
	f.sent = append(f.sent, append([]byte(nil), pcm...))
	return nil
}

func (f *fakeLiveSession) Messages() <-chan domain.LiveMessage { return f.messages }

func (f *fakeLiveSession) Wait() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endErr
}

func (f *fakeLiveSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.endLocked(nil)
	return nil
}

func (f *fakeLiveSession) push(msg domain.LiveMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return
	}
	f.messages <- msg
}

// end simulates the remote side closing the session.
func (f *fakeLiveSession) end(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endLocked(err)
}

func (f *fakeLiveSession) endLocked(err error) {
	if f.ended {
		return
	}
	f.ended = true
	f.endErr = err
	close(f.messages)
}

func (f *fakeLiveSession) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeLiveSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeCredentials struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeCredentials) Reselect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeCredentials) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLiveSink struct {
	mu    sync.Mutex
	snaps []domain.LiveSnapshot
}

func (f *fakeLiveSink) LiveChanged(snapshot domain.LiveSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snapshot)
}

type alertEvent struct {
	code    domain.ErrorCode
	message string
}

type fakeViewSink struct {
	mu     sync.Mutex
	views  []domain.ViewSnapshot
	alerts []alertEvent
}

func (f *fakeViewSink) ViewChanged(snapshot domain.ViewSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views = append(f.views, snapshot)
}

func (f *fakeViewSink) Alert(code domain.ErrorCode, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alertEvent{code: code, message: message})
}

func (f *fakeViewSink) snapshotAlerts() []alertEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]alertEvent(nil), f.alerts...)
}

func (f *fakeViewSink) snapshotViews() []domain.ViewSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ViewSnapshot(nil), f.views...)
}

type fakeAnalyzer struct {
	mu          sync.Mutex
	calls       int
	result      domain.AnalysisResult
	err         error
	block       chan struct{}
	started     chan struct{}
	lastNote    string
	lastRec     *domain.Recording
	supplement  string
	supplements []domain.SupplementKind
	lastSoap    domain.CareNote
}

func (f *fakeAnalyzer) Analyze(_ context.Context, rec *domain.Recording, note string) (domain.AnalysisResult, error) {
	f.mu.Lock()
	f.calls++
	f.lastNote = note
	f.lastRec = rec
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	return f.result, f.err
}

func (f *fakeAnalyzer) Supplement(_ context.Context, kind domain.SupplementKind, note domain.CareNote, _ []domain.CarePlanEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.supplements = append(f.supplements, kind)
	f.lastSoap = note
	if f.err != nil {
		return "", f.err
	}
	return f.supplement, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLiveController struct {
	mu        sync.Mutex
	connects  int
	hangups   int
	err       error
	onConnect func(ctx context.Context) error
}

func (f *fakeLiveController) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	err, onConnect := f.err, f.onConnect
	f.mu.Unlock()
	if onConnect != nil {
		if hookErr := onConnect(ctx); hookErr != nil {
			return hookErr
		}
	}
	return err
}

func (f *fakeLiveController) HangUp() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups++
}

type fakeClipboard struct {
	mu       sync.Mutex
	lastText string
	err      error
}

func (f *fakeClipboard) SetText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.lastText = text
	return nil
}

var errBoom = errors.New("boom")
