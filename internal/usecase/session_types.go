package usecase

import (
	"context"
	"sync"

	"visitnote/internal/ports"
)

// liveRun holds everything acquired for one live session. Resources are attached as they are
// acquired so a concurrent hang-up can release whatever exists at that moment.
type liveRun struct {
	id         string
	cancel     context.CancelFunc
	transcript *transcriptAggregator

	mu        sync.Mutex
	released  bool
	connected bool
	mic       ports.AudioSession
	playback  *playbackScheduler
	session   ports.LiveSession
	queue     *frameQueue

	pumpDone    chan struct{}
	sendDone    chan struct{}
	consumeDone chan struct{}

	releaseOnce sync.Once
}

func newLiveRun(id string, cancel context.CancelFunc) *liveRun {
	return &liveRun{id: id, cancel: cancel, transcript: newTranscriptAggregator()}
}

func (r *liveRun) attachMic(mic ports.AudioSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	r.mic = mic
	return true
}

func (r *liveRun) attachPlayback(p *playbackScheduler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	r.playback = p
	return true
}

func (r *liveRun) attachSession(s ports.LiveSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	r.session = s
	return true
}

func (r *liveRun) scheduler() *playbackScheduler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playback
}

// release tears down the run exactly once and reports whether it had reached the connected state.
func (r *liveRun) release(onErr func(what string, err error)) bool {
	wasConnected := false
	r.releaseOnce.Do(func() {
		r.mu.Lock()
		r.released = true
		mic, playback, session := r.mic, r.playback, r.session
		pumpDone, sendDone, queue := r.pumpDone, r.sendDone, r.queue
		wasConnected = r.connected
		r.mu.Unlock()

		if mic != nil {
			if err := mic.Stop(); err != nil {
				onErr("microphone", err)
			}
		}
		if pumpDone != nil {
			<-pumpDone
		}
		if queue != nil {
			queue.Close()
		}
		if session != nil {
			// The session's terminal error is reported by the consumer, not here.
			_ = session.Close()
		}
		if sendDone != nil {
			<-sendDone
		}
		if playback != nil {
			if err := playback.Close(); err != nil {
				onErr("playback", err)
			}
		}
		r.cancel()
	})
	return wasConnected
}
