package usecase

import (
	"sync"
	"time"

	"visitnote/internal/ports"
	"visitnote/internal/wire"
)

// playbackScheduler queues clips back to back on a playback device clock.
type playbackScheduler struct {
	device   ports.PlaybackDevice
	onChange func(playing bool)

	mu     sync.Mutex
	next   time.Duration
	active map[ports.PlaybackSource]struct{}
}

func newPlaybackScheduler(device ports.PlaybackDevice, onChange func(playing bool)) *playbackScheduler {
	return &playbackScheduler{
		device:   device,
		onChange: onChange,
		active:   make(map[ports.PlaybackSource]struct{}),
	}
}

// Enqueue schedules a clip right after the previous one, or now if the queue has drained.
func (p *playbackScheduler) Enqueue(samples []float32) (time.Duration, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	start := p.next
	if now := p.device.Now(); now > start {
		start = now
	}
	src, err := p.device.Schedule(samples, start)
	if err != nil {
		p.mu.Unlock()
		return 0, err
	}
	p.next = start + wire.Duration(len(samples), p.device.SampleRate())
	wasIdle := len(p.active) == 0
	p.active[src] = struct{}{}
	p.mu.Unlock()

	go p.watch(src)
	if wasIdle {
		p.notify(true)
	}
	return start, nil
}

// Interrupt stops every scheduled clip and resets the clock.
func (p *playbackScheduler) Interrupt() {
	p.mu.Lock()
	sources := make([]ports.PlaybackSource, 0, len(p.active))
	for src := range p.active {
		sources = append(sources, src)
	}
	clear(p.active)
	p.next = 0
	p.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
	if len(sources) > 0 {
		p.notify(false)
	}
}

func (p *playbackScheduler) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active) > 0
}

func (p *playbackScheduler) Next() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// Close stops every clip and releases the device.
func (p *playbackScheduler) Close() error {
	p.Interrupt()
	return p.device.Close()
}

func (p *playbackScheduler) watch(src ports.PlaybackSource) {
	<-src.Done()

	p.mu.Lock()
	_, ok := p.active[src]
	delete(p.active, src)
	nowIdle := ok && len(p.active) == 0
	p.mu.Unlock()

	if nowIdle {
		p.notify(false)
	}
}

func (p *playbackScheduler) notify(playing bool) {
	if p.onChange != nil {
		p.onChange(playing)
	}
}
