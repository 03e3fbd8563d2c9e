package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"visitnote/internal/bootstrap"
	"visitnote/internal/config"
	"visitnote/internal/domain"
	"visitnote/internal/usecase"
)

const (
	eventView       = "visitnote:view"
	eventRecorder   = "visitnote:recorder"
	eventLevels     = "visitnote:levels"
	eventLive       = "visitnote:live"
	eventAlert      = "visitnote:alert"
	eventCredential = "visitnote:credential"
)

// AppState is the full UI state returned by GetState.
type AppState struct {
	View     domain.ViewSnapshot   `json:"view"`
	Recorder domain.RecorderStatus `json:"recorder"`
	Live     domain.LiveSnapshot   `json:"live"`
}

// App is the Wails application root.
type App struct {
	ctx context.Context

	services bootstrap.Services
	ready    bool
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(bootstrap.Options{Events: a, Clipboard: &wailsClipboard{}})
	if err != nil {
		a.bootErr = err
		a.Alert(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.ready = true
	services.Credentials.OnReselect(a.requestCredential)

	if addr := services.Config.Metrics.Address; addr != "" {
		go func() {
			if err := services.Metrics.Serve(ctx, addr, services.Logger); err != nil {
				services.Logger.Error("Metrics listener failed", slog.String("error", err.Error()))
			}
		}()
	}

	if !services.Credentials.Configured() {
		_ = a.requestCredential(ctx)
	}
	a.ViewChanged(services.Orchestrator.Snapshot())
}

func (a *App) shutdown(_ context.Context) {
	if !a.ready {
		return
	}
	a.services.Recorder.Close()
	a.services.Live.HangUp()
}

// StartRecording opens the microphone for a visit recording.
func (a *App) StartRecording() (domain.RecorderStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.RecorderStatus{}, err
	}
	if err := a.services.Recorder.Start(a.ctx); err != nil {
		if errors.Is(err, usecase.ErrBusy) {
			a.Alert(domain.ErrorCodeAnalysis, usecase.BusyMessage)
		} else {
			a.Alert(domain.ErrorCodePermission, err.Error())
		}
		return a.services.Recorder.Status(), err
	}
	return a.services.Recorder.Status(), nil
}

// StopRecording finalizes the recording and runs the analysis.
func (a *App) StopRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Recorder.Stop(a.ctx)
}

// SetNote replaces the free-text note.
func (a *App) SetNote(text string) {
	if a.ready {
		a.services.Recorder.SetNote(text)
	}
}

// SubmitText analyzes the note without audio.
func (a *App) SubmitText() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	err := a.services.Recorder.SubmitText(a.ctx)
	if errors.Is(err, usecase.ErrBusy) {
		a.Alert(domain.ErrorCodeAnalysis, usecase.BusyMessage)
		return err
	}
	// A blank note still gets the orchestrator's blank-input alert.
	if err != nil && strings.TrimSpace(a.services.Recorder.Status().Note) == "" {
		return a.services.Orchestrator.Analyze(a.ctx, nil, "")
	}
	return err
}

// Reset clears the current result.
func (a *App) Reset() domain.ViewSnapshot {
	if !a.ready {
		return domain.ViewSnapshot{View: domain.ViewCapture}
	}
	a.services.Orchestrator.Reset()
	return a.services.Orchestrator.Snapshot()
}

// OpenLive switches to the live view and connects.
func (a *App) OpenLive() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Orchestrator.OpenLive(a.ctx)
}

// RetryLive reconnects after a live failure.
func (a *App) RetryLive() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if a.services.Live.State() == domain.LiveStateError {
		a.services.Live.HangUp()
	}
	return a.services.Orchestrator.OpenLive(a.ctx)
}

// CloseLive hangs up and leaves the live view.
func (a *App) CloseLive() {
	if a.ready {
		a.services.Orchestrator.CloseLive()
	}
}

// ResetCredential forgets the API key and asks for another.
func (a *App) ResetCredential() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Credentials.Reselect(a.ctx)
}

// SetAPIKey installs a key typed into the credential prompt.
func (a *App) SetAPIKey(key string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty API key", domain.ErrCredential)
	}
	a.services.Credentials.Set(key)
	a.emit(eventCredential, map[string]any{"required": false})
	return nil
}

// Supplement generates insight, family or handover text for the current result.
func (a *App) Supplement(kind string) (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	return a.services.Orchestrator.Supplement(a.ctx, domain.SupplementKind(kind))
}

// CopyText copies text to the system clipboard.
func (a *App) CopyText(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Orchestrator.CopyToClipboard(a.ctx, text)
}

// GetState returns the current view, recorder and live state.
func (a *App) GetState() AppState {
	if !a.ready {
		return AppState{
			View:     domain.ViewSnapshot{View: domain.ViewCapture},
			Recorder: domain.RecorderStatus{State: domain.RecorderStateIdle, ElapsedLabel: "00:00"},
			Live:     domain.LiveSnapshot{State: domain.LiveStateIdle, Log: []domain.LiveTranscriptEntry{}},
		}
	}
	return AppState{
		View:     a.services.Orchestrator.Snapshot(),
		Recorder: a.services.Recorder.Status(),
		Live:     a.services.Live.Snapshot(),
	}
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if !a.ready {
		return map[string]string{}
	}

	cfg := a.services.Config
	model := cfg.Provider.Model
	if cfg.Provider.Name == config.ProviderOpenAI {
		model = cfg.Provider.OpenAIModel
	}
	return map[string]string{
		"provider":   cfg.Provider.Name,
		"model":      model,
		"liveModel":  cfg.Live.Model,
		"voice":      cfg.Live.Voice,
		"container":  cfg.Recorder.Container,
		"rulesFile":  cfg.Rules.Path,
		"audioInput": cfg.Audio.InputDevice,
		"credential": fmt.Sprintf("%t", a.services.Credentials.Configured()),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if !a.ready {
		return errors.New("application is not initialized")
	}
	return nil
}

func (a *App) requestCredential(_ context.Context) error {
	a.emit(eventCredential, map[string]any{"required": true})
	return nil
}

// RecorderChanged emits recorder state to the frontend.
func (a *App) RecorderChanged(status domain.RecorderStatus) {
	a.emit(eventRecorder, status)
}

func (a *App) RecorderLevels(bars []domain.LevelBar) {
	a.emit(eventLevels, bars)
}

func (a *App) LiveChanged(snapshot domain.LiveSnapshot) {
	a.emit(eventLive, snapshot)
}

func (a *App) ViewChanged(snapshot domain.ViewSnapshot) {
	a.emit(eventView, snapshot)
}

// Alert emits a user-facing message.
func (a *App) Alert(code domain.ErrorCode, message string) {
	a.emit(eventAlert, map[string]string{
		"code":    string(code),
		"title":   alertTitle(code),
		"message": message,
	})
}

func (a *App) emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}

func alertTitle(code domain.ErrorCode) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "起動失敗"
	case domain.ErrorCodeInput:
		return "入力不足"
	case domain.ErrorCodePermission:
		return "マイクエラー"
	case domain.ErrorCodeAnalysis:
		return "解析失敗"
	case domain.ErrorCodeSupplement:
		return "追加生成失敗"
	case domain.ErrorCodeLive:
		return "通信エラー"
	case domain.ErrorCodeAudioStream:
		return "音声ストリームエラー"
	case domain.ErrorCodeCredential:
		return "APIキーエラー"
	case domain.ErrorCodeClipboard:
		return "コピー失敗"
	default:
		return "エラー"
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
