package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"visitnote/internal/domain"
	"visitnote/internal/ports"
)

type recordedCall struct {
	rec  *domain.Recording
	note string
}

type handlerRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (h *handlerRecorder) handle(_ context.Context, rec *domain.Recording, note string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, recordedCall{rec: rec, note: note})
}

func (h *handlerRecorder) snapshot() []recordedCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedCall(nil), h.calls...)
}

func TestRecorderStopWhileIdleIsNoop(t *testing.T) {
	t.Parallel()

	handler := &handlerRecorder{}
	encoder := &fakeEncoder{}
	recorder := NewRecorder(&fakeAudioCapture{}, encoder, &fakeRecorderSink{}, handler.handle, RecorderConfig{})

	if err := recorder.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
	if len(handler.snapshot()) != 0 || encoder.calls != 0 {
		t.Fatalf("stop while idle must not invoke anything")
	}
}

func TestRecorderSecondStartDoesNotOpenSecondCapture(t *testing.T) {
	t.Parallel()

	capture := &fakeAudioCapture{}
	recorder := NewRecorder(capture, &fakeEncoder{}, nil, nil, RecorderConfig{})
	defer recorder.Close()

	if err := recorder.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := recorder.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
	if got := len(capture.startCalls()); got != 1 {
		t.Fatalf("expected one capture, got %d", got)
	}
}

func TestRecorderStartStopDeliversRecording(t *testing.T) {
	t.Parallel()

	audio := &fakeAudioSession{chunks: [][]byte{{1, 0, 2, 0}, {3, 0}}}
	capture := &fakeAudioCapture{sessions: []ports.AudioSession{audio}}
	encoder := &fakeEncoder{}
	sink := &fakeRecorderSink{}
	handler := &handlerRecorder{}

	recorder := NewRecorder(capture, encoder, sink, handler.handle, RecorderConfig{
		Audio: ports.AudioConfig{SampleRate: 16000, SampleFormat: ports.SampleFormatF32LE},
	})
	recorder.SetNote("BP 150/90")

	if err := recorder.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if got := recorder.Status().State; got != domain.RecorderStateRecording {
		t.Fatalf("unexpected state: %s", got)
	}
	waitFor(t, "level updates", func() bool { return sink.levelCount() == 2 })

	if err := recorder.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	cfg := capture.startCalls()[0]
	if cfg.SampleFormat != ports.SampleFormatS16LE || cfg.SampleRate != 16000 || cfg.Channels != 1 {
		t.Fatalf("unexpected capture config: %+v", cfg)
	}
	if string(encoder.pcm) != string([]byte{1, 0, 2, 0, 3, 0}) || encoder.rate != 16000 {
		t.Fatalf("unexpected encoder input: %v @ %d", encoder.pcm, encoder.rate)
	}
	if audio.stops() != 1 {
		t.Fatalf("expected microphone released once, got %d", audio.stops())
	}

	calls := handler.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected one callback, got %d", len(calls))
	}
	if calls[0].note != "BP 150/90" || calls[0].rec == nil || calls[0].rec.MIMEType != "audio/webm" {
		t.Fatalf("unexpected callback: %+v", calls[0])
	}
	if calls[0].rec.Duration != 3*time.Second/16000 {
		t.Fatalf("unexpected duration: %v", calls[0].rec.Duration)
	}
	if recorder.Status().State != domain.RecorderStateIdle {
		t.Fatalf("expected idle after stop")
	}
}

func TestRecorderStopWithoutAudioPassesNilRecording(t *testing.T) {
	t.Parallel()

	handler := &handlerRecorder{}
	encoder := &fakeEncoder{}
	recorder := NewRecorder(&fakeAudioCapture{}, encoder, nil, handler.handle, RecorderConfig{})

	if err := recorder.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := recorder.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	calls := handler.snapshot()
	if len(calls) != 1 || calls[0].rec != nil || encoder.calls != 0 {
		t.Fatalf("expected a nil recording without encoding, got %+v", calls)
	}
}

func TestRecorderStartFailureShowsMicrophoneMessage(t *testing.T) {
	t.Parallel()

	sink := &fakeRecorderSink{}
	recorder := NewRecorder(&fakeAudioCapture{err: errBoom}, &fakeEncoder{}, sink, nil, RecorderConfig{})

	err := recorder.Start(context.Background())
	if !errors.Is(err, domain.ErrPermission) || !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped permission error, got %v", err)
	}
	status := recorder.Status()
	if status.State != domain.RecorderStateIdle || status.Error != MicrophoneErrorMessage {
		t.Fatalf("unexpected status: %+v", status)
	}

	// A later start is allowed once the device is back.
	if err := recorder.Start(context.Background()); err == nil {
		t.Fatalf("capture still fails, expected error")
	}
}

func TestRecorderEncodeFailure(t *testing.T) {
	t.Parallel()

	audio := &fakeAudioSession{chunks: [][]byte{{1, 0}}}
	handler := &handlerRecorder{}
	recorder := NewRecorder(
		&fakeAudioCapture{sessions: []ports.AudioSession{audio}},
		&fakeEncoder{err: errBoom},
		nil,
		handler.handle,
		RecorderConfig{},
	)

	if err := recorder.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "audio drained", func() bool {
		audio.mu.Lock()
		defer audio.mu.Unlock()
		return audio.index == 1
	})
	if err := recorder.Stop(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("expected encode error, got %v", err)
	}
	if len(handler.snapshot()) != 0 {
		t.Fatalf("callback must not run when encoding fails")
	}
	if !strings.Contains(recorder.Status().Error, "boom") {
		t.Fatalf("expected error in status, got %+v", recorder.Status())
	}
}

func TestRecorderSubmitText(t *testing.T) {
	t.Parallel()

	handler := &handlerRecorder{}
	recorder := NewRecorder(&fakeAudioCapture{}, &fakeEncoder{}, nil, handler.handle, RecorderConfig{})

	recorder.SetNote("   ")
	if err := recorder.SubmitText(context.Background()); !errors.Is(err, ErrTextRejected) {
		t.Fatalf("expected ErrTextRejected for blank note, got %v", err)
	}

	recorder.SetNote("転倒なし")
	if err := recorder.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := recorder.SubmitText(context.Background()); !errors.Is(err, ErrTextRejected) {
		t.Fatalf("expected rejection while recording, got %v", err)
	}
	recorder.Close()

	if err := recorder.SubmitText(context.Background()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	calls := handler.snapshot()
	if len(calls) != 1 || calls[0].rec != nil || calls[0].note != "転倒なし" {
		t.Fatalf("unexpected callback: %+v", calls)
	}
}

func TestRecorderCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	audio := &fakeAudioSession{}
	recorder := NewRecorder(&fakeAudioCapture{sessions: []ports.AudioSession{audio}}, &fakeEncoder{}, nil, nil, RecorderConfig{})

	recorder.Close()
	if err := recorder.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	recorder.Close()
	recorder.Close()

	if audio.stops() != 1 {
		t.Fatalf("expected one microphone release, got %d", audio.stops())
	}
	if err := recorder.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording after close, got %v", err)
	}
}

func TestRecorderElapsedCounter(t *testing.T) {
	t.Parallel()

	recorder := NewRecorder(&fakeAudioCapture{}, &fakeEncoder{}, nil, nil, RecorderConfig{Tick: 5 * time.Millisecond})
	defer recorder.Close()

	if err := recorder.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "elapsed seconds", func() bool { return recorder.Status().ElapsedSeconds >= 2 })
}

func TestFormatElapsed(t *testing.T) {
	t.Parallel()

	cases := map[int]string{0: "00:00", 9: "00:09", 75: "01:15", 600: "10:00"}
	for seconds, want := range cases {
		if got := formatElapsed(seconds); got != want {
			t.Fatalf("formatElapsed(%d) = %q, want %q", seconds, got, want)
		}
	}
}

func TestRecorderRefusesInputWhileBusy(t *testing.T) {
	t.Parallel()

	capture := &fakeAudioCapture{}
	handler := &handlerRecorder{}
	recorder := NewRecorder(capture, &fakeEncoder{}, nil, handler.handle, RecorderConfig{
		Busy: func() bool { return true },
	})
	recorder.SetNote("訪問メモ")

	if err := recorder.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from start, got %v", err)
	}
	if err := recorder.SubmitText(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from submit, got %v", err)
	}
	if len(capture.startCalls()) != 0 {
		t.Fatalf("microphone must not open while busy")
	}
	if len(handler.snapshot()) != 0 {
		t.Fatalf("no input should reach the handler while busy")
	}
	if recorder.Status().State != domain.RecorderStateIdle {
		t.Fatalf("expected recorder to stay idle")
	}
}

func TestRecorderCloseDuringStartReleasesCapture(t *testing.T) {
	t.Parallel()

	capture := &heldCapture{gate: make(chan struct{}), entered: make(chan struct{})}
	entered := capture.entered
	recorder := NewRecorder(capture, &fakeEncoder{}, nil, nil, RecorderConfig{})

	done := make(chan error, 1)
	go func() { done <- recorder.Start(context.Background()) }()
	<-entered

	recorder.Close()
	close(capture.gate)

	if err := <-done; !errors.Is(err, ErrRecorderClosed) {
		t.Fatalf("expected ErrRecorderClosed, got %v", err)
	}
	if open, _ := capture.held(); open != 0 {
		t.Fatalf("expected capture released, %d still open", open)
	}
	if recorder.Status().State != domain.RecorderStateIdle {
		t.Fatalf("expected idle recorder after close")
	}
}
