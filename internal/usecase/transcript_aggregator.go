package usecase

import (
	"strings"
	"sync"

	"visitnote/internal/domain"
)

// transcriptAggregator accumulates streaming transcription deltas per speaker until a turn completes.
type transcriptAggregator struct {
	mu     sync.Mutex
	local  strings.Builder
	remote strings.Builder
	log    []domain.LiveTranscriptEntry
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

// Add applies one inbound message and reports whether a turn was committed.
func (a *transcriptAggregator) Add(msg domain.LiveMessage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.local.WriteString(msg.InputTranscript)
	a.remote.WriteString(msg.OutputTranscript)
	if !msg.TurnComplete {
		return false
	}

	if text := strings.TrimSpace(a.local.String()); text != "" {
		a.log = append(a.log, domain.LiveTranscriptEntry{Speaker: domain.SpeakerLocal, Text: text})
	}
	if text := strings.TrimSpace(a.remote.String()); text != "" {
		a.log = append(a.log, domain.LiveTranscriptEntry{Speaker: domain.SpeakerRemote, Text: text})
	}
	a.local.Reset()
	a.remote.Reset()
	return true
}

// Typing returns the uncommitted text for each side.
func (a *transcriptAggregator) Typing() (local string, remote string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local.String(), a.remote.String()
}

func (a *transcriptAggregator) Log() []domain.LiveTranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.LiveTranscriptEntry(nil), a.log...)
}

func (a *transcriptAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.local.Reset()
	a.remote.Reset()
	a.log = nil
}
