package usecase

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"visitnote/internal/ports"
	"visitnote/internal/wire"
)

// frameQueue is a bounded FIFO that drops its oldest frame when full.
type frameQueue struct {
	mu      sync.Mutex
	frames  [][]byte
	limit   int
	closed  bool
	ready   chan struct{}
	onDrop  func()
	dropped int
}

func newFrameQueue(limit int, onDrop func()) *frameQueue {
	if limit <= 0 {
		limit = 32
	}
	return &frameQueue{limit: limit, ready: make(chan struct{}, 1), onDrop: onDrop}
}

// Push enqueues a frame and reports whether an older frame was discarded to make room.
func (q *frameQueue) Push(frame []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	dropped := false
	if len(q.frames) >= q.limit {
		q.frames[0] = nil
		q.frames = q.frames[1:]
		q.dropped++
		dropped = true
	}
	q.frames = append(q.frames, frame)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	q.mu.Unlock()

	if dropped && q.onDrop != nil {
		q.onDrop()
	}
	return dropped
}

// Pop blocks until a frame is available. It returns false once the queue is closed and empty.
func (q *frameQueue) Pop() ([]byte, bool) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames[0] = nil
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return frame, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.ready
	}
}

// Close wakes the consumer; queued frames are discarded.
func (q *frameQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.frames = nil
	close(q.ready)
	q.mu.Unlock()
}

func (q *frameQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// pumpMicrophoneFrames reads fixed-size float32 frames from the microphone, converts them to PCM16 and queues them.
func pumpMicrophoneFrames(
	audio ports.AudioSession,
	queue *frameQueue,
	frameSamples int,
	logger *slog.Logger,
	done chan struct{},
) {
	defer close(done)

	if frameSamples <= 0 {
		frameSamples = 4096
	}

	buf := make([]byte, frameSamples*4)
	for {
		n, err := io.ReadFull(audio, buf)
		if n >= 4 {
			queue.Push(wire.Float32ToPCM16(wire.BytesToFloat32(buf[:n&^3])))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.ErrClosedPipe) {
				logger.Warn("Microphone read failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// sendQueuedFrames is the single upstream sender. Send failures are logged and the frame is skipped.
func sendQueuedFrames(
	queue *frameQueue,
	session ports.LiveSession,
	onSent func(),
	logger *slog.Logger,
	done chan struct{},
) {
	defer close(done)

	for {
		frame, ok := queue.Pop()
		if !ok {
			return
		}
		if err := session.SendAudio(frame); err != nil {
			logger.Warn("Failed to send audio frame", slog.String("error", err.Error()))
			continue
		}
		if onSent != nil {
			onSent()
		}
	}
}
