package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"visitnote/internal/domain"
	"visitnote/internal/ports"
	"visitnote/internal/wire"
)

const defaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// LiveConfig controls the Gemini Live websocket.
type LiveConfig struct {
	URL          string
	Model        string
	SetupTimeout time.Duration
	Logger       *slog.Logger
}

// Live implements ports.LiveVoiceService over the BidiGenerateContent websocket.
type Live struct {
	keys   ports.KeySource
	cfg    LiveConfig
	logger *slog.Logger
}

func NewLive(keys ports.KeySource, cfg LiveConfig) *Live {
	if cfg.URL == "" {
		cfg.URL = defaultLiveURL
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash-native-audio-preview-09-2025"
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{keys: keys, cfg: cfg, logger: logger.With(slog.String("component", "gemini-live"))}
}

// Connect dials the service, sends setup and returns once the server acknowledges it.
func (l *Live) Connect(ctx context.Context, cfg ports.LiveConfig) (ports.LiveSession, error) {
	key := strings.TrimSpace(l.keys.APIKey())
	if key == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not configured", domain.ErrCredential)
	}
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = 16000
	}

	wsURL, err := buildLiveURL(l.cfg.URL, key)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("failed to connect to Gemini Live: %w", mapStatus(resp.StatusCode, strings.TrimSpace(string(body))))
		}
		return nil, fmt.Errorf("%w: failed to connect to Gemini Live: %v", domain.ErrTransport, err)
	}

	if err := l.handshake(ctx, conn, cfg); err != nil {
		_ = conn.Close()
		return nil, err
	}

	session := &liveSession{
		conn:     conn,
		mimeType: fmt.Sprintf("audio/pcm;rate=%d", cfg.InputSampleRate),
		logger:   l.logger,
		messages: make(chan domain.LiveMessage, 64),
		audio:    make(chan []byte, 32),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.messages)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()

	return session, nil
}

// handshake sends setup and waits for setupComplete.
func (l *Live) handshake(ctx context.Context, conn *websocket.Conn, cfg ports.LiveConfig) error {
	setup := clientSetup{Setup: setupBody{
		Model: "models/" + strings.TrimPrefix(l.cfg.Model, "models/"),
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}}
	if cfg.Voice != "" {
		setup.Setup.GenerationConfig.SpeechConfig = &speechConfig{VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoice{VoiceName: cfg.Voice}}}
	}
	if cfg.SystemInstruction != "" {
		setup.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}

	deadline := time.Now().Add(l.cfg.SetupTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)
	defer func() {
		_ = conn.SetWriteDeadline(time.Time{})
		_ = conn.SetReadDeadline(time.Time{})
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteJSON(setup); err != nil {
		return fmt.Errorf("%w: failed to send setup: %v", domain.ErrTransport, err)
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if mapped := classifyReadErr(err); mapped != nil {
				return mapped
			}
			return fmt.Errorf("%w: live session closed before setup completed", domain.ErrTransport)
		}
		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return mapStatus(msg.Error.Code, msg.Error.Message)
		}
		if msg.SetupComplete != nil {
			l.logger.Debug("Live session ready", slog.String("model", setup.Setup.Model))
			return nil
		}
	}
}

type liveSession struct {
	conn     *websocket.Conn
	mimeType string
	logger   *slog.Logger

	messages chan domain.LiveMessage
	audio    chan []byte
	done     chan struct{}
	closing  chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeOnce  sync.Once
	sendMu     sync.RWMutex
	sendClosed bool
}

func (s *liveSession) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("live session is closed")
	}

	copied := append([]byte(nil), pcm...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("live session closed")
	}
}

func (s *liveSession) Messages() <-chan domain.LiveMessage {
	return s.messages
}

func (s *liveSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *liveSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	<-s.done
	return s.waitErr()
}

func (s *liveSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *liveSession) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *liveSession) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		frame := clientRealtimeInput{RealtimeInput: realtimeInput{MediaChunks: []blob{{
			MimeType: s.mimeType,
			Data:     wire.EncodeToWire(chunk),
		}}}}
		_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := s.conn.WriteJSON(frame); err != nil {
			s.setErr(fmt.Errorf("%w: failed to send audio: %v", domain.ErrTransport, err))
			_ = s.conn.Close()
			s.drain()
			return
		}
	}

	// Local hang-up: say goodbye and unblock the reader.
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = s.conn.Close()
}

// drain discards queued audio after the writer failed so SendAudio never blocks.
func (s *liveSession) drain() {
	for range s.audio {
	}
}

func (s *liveSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
			default:
				s.setErr(classifyReadErr(err))
			}
			s.stopWriter()
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Warn("Ignoring malformed live frame", slog.String("error", err.Error()))
			continue
		}
		if msg.Error != nil {
			s.setErr(mapStatus(msg.Error.Code, msg.Error.Message))
			s.stopWriter()
			return
		}
		if msg.GoAway != nil {
			s.logger.Info("Live service announced disconnect", slog.String("time_left", msg.GoAway.TimeLeft))
		}
		if msg.ServerContent == nil {
			continue
		}
		s.emit(toLiveMessage(msg.ServerContent))
	}
}

// stopWriter closes the outbound queue when the connection is gone.
func (s *liveSession) stopWriter() {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
}

func (s *liveSession) emit(msg domain.LiveMessage) {
	select {
	case s.messages <- msg:
	case <-s.closing:
	}
}

func toLiveMessage(sc *serverContent) domain.LiveMessage {
	msg := domain.LiveMessage{
		TurnComplete: sc.TurnComplete,
		Interrupted:  sc.Interrupted,
	}
	if sc.InputTranscription != nil {
		msg.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		msg.OutputTranscript = sc.OutputTranscription.Text
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				msg.Audio = append(msg.Audio, domain.LiveAudio{MIMEType: p.InlineData.MimeType, Data: p.InlineData.Data})
			}
		}
	}
	return msg
}

// classifyReadErr maps websocket close frames onto the domain taxonomy. Normal closure is not an error.
func classifyReadErr(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if IsCredentialFailure(0, closeErr.Text) {
			return fmt.Errorf("%w: live session closed: %s", domain.ErrCredential, closeErr.Text)
		}
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return nil
		}
		return fmt.Errorf("%w: live session closed (%d): %s", domain.ErrTransport, closeErr.Code, closeErr.Text)
	}
	return fmt.Errorf("%w: failed to read live frame: %v", domain.ErrTransport, err)
}

func buildLiveURL(base string, key string) (string, error) {
	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	liveURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid Gemini Live URL: %w", err)
	}
	query := liveURL.Query()
	query.Set("key", key)
	liveURL.RawQuery = query.Encode()
	return liveURL.String(), nil
}
