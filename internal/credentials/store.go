// Package credentials holds the API key used by the providers and lets the user replace it at runtime.
package credentials

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// PromptFunc asks the user to supply a different key.
type PromptFunc func(ctx context.Context) error

// Store is a concurrency-safe holder for a single API key.
type Store struct {
	mu     sync.RWMutex
	key    string
	prompt PromptFunc
	logger *slog.Logger
}

func NewStore(initial string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{key: strings.TrimSpace(initial), logger: logger}
}

// APIKey returns the key currently in effect.
func (s *Store) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Set replaces the key. Providers pick it up on their next request.
func (s *Store) Set(key string) {
	s.mu.Lock()
	s.key = strings.TrimSpace(key)
	s.mu.Unlock()
	s.logger.Info("API key replaced")
}

func (s *Store) Configured() bool {
	return s.APIKey() != ""
}

// OnReselect installs the hook run by Reselect.
func (s *Store) OnReselect(prompt PromptFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = prompt
}

// Reselect forgets the rejected key and asks for a new one.
func (s *Store) Reselect(ctx context.Context) error {
	s.mu.Lock()
	s.key = ""
	prompt := s.prompt
	s.mu.Unlock()

	s.logger.Warn("API key rejected, asking for a new one")
	if prompt == nil {
		return nil
	}
	return prompt(ctx)
}
