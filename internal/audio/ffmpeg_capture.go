package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"visitnote/internal/domain"
	"visitnote/internal/ports"
)

const (
	captureStartupGrace = 250 * time.Millisecond
	captureStopTimeout  = 1200 * time.Millisecond
	stderrTailBytes     = 2048
)

// FFMPEGCapture streams raw microphone samples from an ffmpeg child process.
// Any process failure while starting is reported as domain.ErrPermission.
type FFMPEGCapture struct {
	command string
	startup time.Duration
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command, startup: captureStartupGrace}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cmd := exec.CommandContext(ctx, c.command, captureArgs(cfg)...)
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start capture: %v", domain.ErrPermission, err)
	}

	session := &captureSession{
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		exited:  make(chan struct{}),
	}
	go func() {
		session.exitErr = cmd.Wait()
		close(session.exited)
	}()

	// A device that cannot be opened makes ffmpeg exit almost immediately.
	select {
	case <-session.exited:
		if session.exitErr != nil {
			return nil, fmt.Errorf("%w: microphone unavailable: %v: %s", domain.ErrPermission, session.exitErr, stderr.String())
		}
		return nil, fmt.Errorf("%w: microphone closed before capture started", domain.ErrPermission)
	case <-time.After(c.startup):
	}
	return session, nil
}

func captureArgs(cfg ports.AudioConfig) []string {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.SampleFormat != ports.SampleFormatF32LE {
		cfg.SampleFormat = ports.SampleFormatS16LE
	}

	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", cfg.SampleFormat,
		"-",
	}
}

type captureSession struct {
	stdout  io.ReadCloser
	stderr  *tailBuffer
	process *os.Process

	exited  chan struct{}
	exitErr error

	stopOnce sync.Once
	stopErr  error
}

func (s *captureSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *captureSession) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg so it flushes, then kills it if it lingers. Safe to call more than once.
func (s *captureSession) Stop() error {
	s.stopOnce.Do(func() {
		_ = s.process.Signal(os.Interrupt)

		select {
		case <-s.exited:
		case <-time.After(captureStopTimeout):
			_ = s.process.Kill()
			<-s.exited
		}

		err := ignoreExitStatus(s.exitErr)
		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && err == nil {
			err = closeErr
		}
		if err != nil {
			if tail := s.stderr.String(); tail != "" {
				err = fmt.Errorf("%w: %s", err, tail)
			}
		}
		s.stopErr = err
	})
	return s.stopErr
}

// ignoreExitStatus treats a non-zero exit as normal; ffmpeg exits 255 on SIGINT.
func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// tailBuffer keeps the last limit bytes written by the child process.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; b.limit > 0 && over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
