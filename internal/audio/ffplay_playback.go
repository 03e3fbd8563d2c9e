package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"visitnote/internal/ports"
	"visitnote/internal/wire"
)

const playbackTick = 20 * time.Millisecond

// FFPlayFactory opens speaker output through an ffplay child process reading s16le from stdin.
type FFPlayFactory struct {
	command  string
	logLevel string
	volume   int
}

func NewFFPlayFactory(command string) *FFPlayFactory {
	if command == "" {
		command = "ffplay"
	}
	return &FFPlayFactory{command: command, logLevel: "error", volume: 80}
}

func (f *FFPlayFactory) Open(ctx context.Context, sampleRate int) (ports.PlaybackDevice, error) {
	if sampleRate <= 0 {
		sampleRate = 24000
	}

	args := []string{
		"-hide_banner",
		"-loglevel", f.logLevel,
		"-nostats",
		"-volume", strconv.Itoa(f.volume),
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", strconv.Itoa(sampleRate),
		"-i", "-",
	}
	cmd := exec.Command(f.command, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create playback pipe: %w", err)
	}
	cmd.Stdout = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("failed to start playback: %w", err)
	}

	d := &ffplayDevice{
		sampleRate: sampleRate,
		origin:     time.Now(),
		cmd:        cmd,
		stdin:      stdin,
		exited:     make(chan struct{}),
		sources:    make(map[*playbackSource]struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(d.exited)
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = d.Close()
		case <-d.exited:
		}
	}()
	return d, nil
}

type ffplayDevice struct {
	sampleRate int
	origin     time.Time

	cmd    *exec.Cmd
	exited chan struct{}

	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu      sync.Mutex
	closed  bool
	sources map[*playbackSource]struct{}

	closeOnce sync.Once
}

func (d *ffplayDevice) SampleRate() int {
	return d.sampleRate
}

// Now is the device clock: time elapsed since the device was opened.
func (d *ffplayDevice) Now() time.Duration {
	return time.Since(d.origin)
}

func (d *ffplayDevice) Schedule(samples []float32, at time.Duration) (ports.PlaybackSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("playback device is closed")
	}

	src := &playbackSource{stop: make(chan struct{}), done: make(chan struct{})}
	d.sources[src] = struct{}{}
	go d.play(src, wire.Float32ToPCM16(samples), at)
	return src, nil
}

// play writes pcm in tick-sized chunks, each no earlier than its offset on the device clock.
func (d *ffplayDevice) play(src *playbackSource, pcm []byte, at time.Duration) {
	defer func() {
		d.mu.Lock()
		delete(d.sources, src)
		d.mu.Unlock()
		close(src.done)
	}()

	chunk := (d.sampleRate * 2 * int(playbackTick) / int(time.Second)) &^ 1
	if chunk < 2 {
		chunk = 2
	}
	for offset := 0; offset < len(pcm); offset += chunk {
		due := at + wire.Duration(offset/2, d.sampleRate)
		if wait := due - d.Now(); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-src.stop:
				timer.Stop()
				return
			case <-d.exited:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		select {
		case <-src.stop:
			return
		default:
		}

		end := offset + chunk
		if end > len(pcm) {
			end = len(pcm)
		}
		d.writeMu.Lock()
		_, err := d.stdin.Write(pcm[offset:end])
		d.writeMu.Unlock()
		if err != nil {
			return
		}
	}

	// Hold the source until its last chunk has been played out.
	if wait := at + wire.Duration(len(pcm)/2, d.sampleRate) - d.Now(); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-src.stop:
		case <-d.exited:
		case <-timer.C:
		}
	}
}

func (d *ffplayDevice) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		active := make([]*playbackSource, 0, len(d.sources))
		for src := range d.sources {
			active = append(active, src)
		}
		d.mu.Unlock()

		for _, src := range active {
			src.Stop()
			<-src.done
		}

		d.writeMu.Lock()
		_ = d.stdin.Close()
		d.writeMu.Unlock()

		select {
		case <-d.exited:
		case <-time.After(time.Second):
			if d.cmd.Process != nil {
				_ = d.cmd.Process.Kill()
			}
			<-d.exited
		}
	})
	return nil
}

type playbackSource struct {
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (s *playbackSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *playbackSource) Done() <-chan struct{} {
	return s.done
}
