package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"visitnote/internal/domain"
	"visitnote/internal/ports"
)

var (
	ErrBusy     = errors.New("analysis already in progress")
	ErrNoResult = errors.New("no analysis result available")
)

// BusyMessage is shown when input arrives while an analysis is in flight.
const BusyMessage = "まだ解析中よ！終わるまで待ちなさい！"

const (
	blankInputMessage = "やる気あんのか？何か情報をよこしなさい！"
	overloadMessage   = "サーバー混雑！災害レベル【竜】だわ！待ちなさい！"
	failurePrefix     = "作戦失敗: "
)

// Analyzer produces structured analyses and supplementary text.
type Analyzer interface {
	Analyze(ctx context.Context, rec *domain.Recording, note string) (domain.AnalysisResult, error)
	Supplement(ctx context.Context, kind domain.SupplementKind, note domain.CareNote, plan []domain.CarePlanEntry) (string, error)
}

// LiveController is the part of LiveManager the orchestrator drives.
type LiveController interface {
	Connect(ctx context.Context) error
	HangUp()
}

// RecorderController is the part of Recorder the orchestrator releases when leaving the capture view.
type RecorderController interface {
	Close()
}

// Orchestrator switches between the capture, result and live views and owns the current analysis.
type Orchestrator struct {
	analyzer  Analyzer
	live      LiveController
	recorder  RecorderController
	clipboard ports.Clipboard
	sink      ports.ViewSink
	logger    *slog.Logger

	mu         sync.Mutex
	view       domain.View
	processing bool
	result     *domain.AnalysisResult
}

func NewOrchestrator(
	analyzer Analyzer,
	live LiveController,
	recorder RecorderController,
	clipboard ports.Clipboard,
	sink ports.ViewSink,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		analyzer:  analyzer,
		live:      live,
		recorder:  recorder,
		clipboard: clipboard,
		sink:      sink,
		logger:    logger.With(slog.String("component", "orchestrator")),
		view:      domain.ViewCapture,
	}
}

// HandleRecording analyzes a finished recording and/or note. It matches RecordingHandler.
// Failures are reported through the sink.
func (o *Orchestrator) HandleRecording(ctx context.Context, rec *domain.Recording, note string) {
	_ = o.Analyze(ctx, rec, note)
}

// Processing reports whether an analysis is in flight. The recorder refuses new input meanwhile.
func (o *Orchestrator) Processing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.processing
}

// Analyze runs one analysis and switches to the result view on success.
func (o *Orchestrator) Analyze(ctx context.Context, rec *domain.Recording, note string) error {
	if rec.Empty() && strings.TrimSpace(note) == "" {
		o.alert(domain.ErrorCodeInput, blankInputMessage)
		return domain.ErrInput
	}

	o.mu.Lock()
	if o.processing {
		o.mu.Unlock()
		o.logger.Warn("Input rejected while an analysis is in flight")
		o.alert(domain.ErrorCodeAnalysis, BusyMessage)
		return ErrBusy
	}
	o.processing = true
	o.mu.Unlock()
	o.notify()

	result, err := o.analyzer.Analyze(ctx, rec, note)

	o.mu.Lock()
	o.processing = false
	if err == nil {
		o.result = &result
		o.view = domain.ViewResult
	}
	o.mu.Unlock()
	o.notify()

	if err != nil {
		o.logger.Error("Analysis failed", slog.String("error", err.Error()))
		code := domain.ErrorCodeAnalysis
		if errors.Is(err, domain.ErrCredential) {
			code = domain.ErrorCodeCredential
		}
		o.alert(code, failurePrefix+failureMessage(err))
		return err
	}
	o.logger.Info("Analysis complete", slog.String("threat_level", string(result.ThreatLevel)))
	return nil
}

// Reset discards the current result and returns to capture.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.result = nil
	o.view = domain.ViewCapture
	o.mu.Unlock()
	o.notify()
}

// OpenLive switches to the live view and connects. Connection errors stay in the live view state.
// Any recording in progress is abandoned first so only one capture holds the microphone.
func (o *Orchestrator) OpenLive(ctx context.Context) error {
	if o.recorder != nil {
		o.recorder.Close()
	}

	o.mu.Lock()
	o.view = domain.ViewLive
	o.mu.Unlock()
	o.notify()

	if o.live == nil {
		return nil
	}
	err := o.live.Connect(ctx)
	if err != nil && !errors.Is(err, ErrLiveBusy) {
		o.logger.Warn("Live session did not connect", slog.String("error", err.Error()))
	}
	return err
}

// CloseLive hangs up and returns to the result view if one exists.
func (o *Orchestrator) CloseLive() {
	if o.live != nil {
		o.live.HangUp()
	}

	o.mu.Lock()
	if o.result != nil {
		o.view = domain.ViewResult
	} else {
		o.view = domain.ViewCapture
	}
	o.mu.Unlock()
	o.notify()
}

// Supplement generates supplementary text for the current result.
func (o *Orchestrator) Supplement(ctx context.Context, kind domain.SupplementKind) (string, error) {
	o.mu.Lock()
	result := o.result
	o.mu.Unlock()
	if result == nil {
		return "", ErrNoResult
	}

	text, err := o.analyzer.Supplement(ctx, kind, result.Soap, result.CarePlan)
	if err != nil {
		o.logger.Error("Supplement failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
		o.alert(domain.ErrorCodeSupplement, failurePrefix+failureMessage(err))
		return "", err
	}
	return text, nil
}

// CopyToClipboard writes text to the system clipboard.
func (o *Orchestrator) CopyToClipboard(ctx context.Context, text string) error {
	if o.clipboard == nil {
		return errors.New("clipboard is not available")
	}
	if err := o.clipboard.SetText(ctx, text); err != nil {
		o.alert(domain.ErrorCodeClipboard, fmt.Sprintf("クリップボードへのコピーに失敗: %v", err))
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	return nil
}

func (o *Orchestrator) Snapshot() domain.ViewSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := domain.ViewSnapshot{View: o.view, Processing: o.processing}
	if o.result != nil {
		copied := *o.result
		copied.CarePlan = append([]domain.CarePlanEntry(nil), o.result.CarePlan...)
		snap.Result = &copied
	}
	return snap
}

func (o *Orchestrator) notify() {
	if o.sink != nil {
		o.sink.ViewChanged(o.Snapshot())
	}
}

func (o *Orchestrator) alert(code domain.ErrorCode, message string) {
	if o.sink != nil {
		o.sink.Alert(code, message)
	}
}

func failureMessage(err error) string {
	var unavailable *domain.ServiceUnavailableError
	if errors.As(err, &unavailable) {
		return unavailable.UserMessage()
	}
	msg := err.Error()
	if errors.Is(err, domain.ErrRetryableService) || strings.Contains(msg, "overloaded") || strings.Contains(msg, "503") {
		return overloadMessage
	}
	return msg
}
