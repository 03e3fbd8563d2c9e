package tui

import (
	"sync"

	"visitnote/internal/domain"
)

// Sink adapts live manager callbacks to a channel the model reads. Only the newest snapshot is kept.
type Sink struct {
	mu      sync.Mutex
	updates chan domain.LiveSnapshot
	closed  bool
}

func NewSink() *Sink {
	return &Sink{updates: make(chan domain.LiveSnapshot, 1)}
}

func (s *Sink) Updates() <-chan domain.LiveSnapshot {
	return s.updates
}

func (s *Sink) LiveChanged(snapshot domain.LiveSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snapshot
}

func (s *Sink) RecorderChanged(domain.RecorderStatus) {}
func (s *Sink) RecorderLevels([]domain.LevelBar)      {}
func (s *Sink) ViewChanged(domain.ViewSnapshot)       {}
func (s *Sink) Alert(domain.ErrorCode, string)        {}

// Close ends the update stream.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.updates)
	}
}
