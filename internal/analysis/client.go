// Package analysis turns visit recordings and notes into structured clinical records.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"visitnote/internal/domain"
	"visitnote/internal/metrics"
	"visitnote/internal/ports"
)

// Normalizer rewrites free-text notes before they are sent.
type Normalizer interface {
	Normalize(text string) string
}

// Config tunes the request client. Zero values select the defaults.
type Config struct {
	Attempts   int
	BaseDelay  time.Duration
	MaxJitter  time.Duration
	Normalizer Normalizer
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Sleep      SleepFunc
	Jitter     JitterFunc
}

// Client wraps a CompletionService with input validation, retry and response parsing.
type Client struct {
	completion ports.CompletionService
	cfg        Config
	logger     *slog.Logger
}

func NewClient(completion ports.CompletionService, cfg Config) *Client {
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxJitter <= 0 {
		cfg.MaxJitter = defaultMaxJitter
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Jitter == nil {
		cfg.Jitter = uniformJitter(cfg.MaxJitter)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{completion: completion, cfg: cfg, logger: logger.With(slog.String("component", "analysis"))}
}

// Analyze sends the recording and note for structured analysis.
func (c *Client) Analyze(ctx context.Context, rec *domain.Recording, note string) (domain.AnalysisResult, error) {
	note = strings.TrimSpace(note)
	if rec.Empty() && note == "" {
		return domain.AnalysisResult{}, fmt.Errorf("%w: recording and note are both empty", domain.ErrInput)
	}
	if note != "" && c.cfg.Normalizer != nil {
		note = c.cfg.Normalizer.Normalize(note)
	}

	req := ports.CompletionRequest{
		Prompt:      buildAnalyzePrompt(note),
		Schema:      ResponseSchema(),
		Temperature: 0,
	}
	if !rec.Empty() {
		mimeType := rec.MIMEType
		if mimeType == "" {
			mimeType = "audio/webm"
		}
		req.Audio = &ports.InlineAudio{Data: rec.Data, MIMEType: mimeType}
	}

	text, err := c.complete(ctx, "analyze", req)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	result, err := ParseAnalysis(text)
	if err != nil {
		c.logger.Warn("Model response rejected", slog.String("error", err.Error()))
		c.outcome("analyze", "schema")
		return domain.AnalysisResult{}, err
	}
	c.outcome("analyze", "success")
	return result, nil
}

// Supplement generates persona-specific text from an existing analysis.
func (c *Client) Supplement(ctx context.Context, kind domain.SupplementKind, note domain.CareNote, plan []domain.CarePlanEntry) (string, error) {
	persona, ok := supplementPersonas[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown supplement kind %q", domain.ErrInput, kind)
	}

	text, err := c.complete(ctx, "supplement", ports.CompletionRequest{
		SystemInstruction: persona,
		Prompt:            buildSupplementPrompt(note, plan),
		Temperature:       0.2,
	})
	if err != nil {
		return "", err
	}
	c.outcome("supplement", "success")
	if strings.TrimSpace(text) == "" {
		return SupplementFallback, nil
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, operation string, req ports.CompletionRequest) (string, error) {
	started := time.Now()
	defer func() {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.CompletionDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
		}
	}()

	backoff := newBackoff(c.cfg.BaseDelay, c.cfg.Attempts, c.cfg.Jitter)
	for attempt := 1; ; attempt++ {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.CompletionAttempts.WithLabelValues(operation).Inc()
		}

		text, err := c.completion.Complete(ctx, req)
		if err == nil {
			c.logger.Debug("Completion succeeded", slog.String("operation", operation), slog.Int("attempt", attempt))
			return text, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			c.outcome(operation, "canceled")
			return "", ctxErr
		}
		if !IsRetryable(err) {
			c.logger.Error("Completion failed", slog.String("operation", operation), slog.Int("attempt", attempt), slog.String("error", err.Error()))
			c.outcome(operation, "error")
			return "", classify(err)
		}

		delay, stop := backoff.Next()
		if stop {
			c.logger.Error("Completion retries exhausted", slog.String("operation", operation), slog.Int("attempts", attempt), slog.String("error", err.Error()))
			c.outcome(operation, "unavailable")
			return "", &domain.ServiceUnavailableError{Attempts: attempt, Cause: err}
		}

		c.logger.Warn("Transient completion failure, retrying",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.CompletionRetries.WithLabelValues(operation).Inc()
		}
		if err := c.cfg.Sleep(ctx, delay); err != nil {
			c.outcome(operation, "canceled")
			return "", err
		}
	}
}

func (c *Client) outcome(operation, outcome string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CompletionOutcomes.WithLabelValues(operation, outcome).Inc()
	}
}
