// Package openai adapts the OpenAI API to the completion port. Audio is transcribed with Whisper first.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"visitnote/internal/domain"
	"visitnote/internal/ports"
)

// Config controls the OpenAI adapter.
type Config struct {
	Model        string
	WhisperModel string
	APIBaseURL   string
}

// Completion implements ports.CompletionService with chat completions.
type Completion struct {
	keys ports.KeySource
	cfg  Config

	mu     sync.Mutex
	key    string
	client *openai.Client
}

func NewCompletion(keys ports.KeySource, cfg Config) *Completion {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.WhisperModel == "" {
		cfg.WhisperModel = openai.Whisper1
	}
	return &Completion{keys: keys, cfg: cfg}
}

func (c *Completion) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	client, err := c.clientFor()
	if err != nil {
		return "", err
	}

	prompt := req.Prompt
	if req.Audio != nil && len(req.Audio.Data) > 0 {
		transcript, err := c.transcribe(ctx, client, req.Audio)
		if err != nil {
			return "", err
		}
		prompt += "\n\n【音声書き起こし】\n" + transcript
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemInstruction})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	chat := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	// A zero temperature is dropped on the wire and the server default applies.
	if chat.Temperature == 0 {
		chat.Temperature = math.SmallestNonzeroFloat32
	}
	if req.Schema != nil {
		schema := toDefinition(req.Schema)
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "visit_analysis",
				Schema: &schema,
				Strict: true,
			},
		}
	}

	resp, err := client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", mapError(err))
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Completion) transcribe(ctx context.Context, client *openai.Client, audio *ports.InlineAudio) (string, error) {
	resp, err := client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.WhisperModel,
		FilePath: "visit" + extensionFor(audio.MIMEType),
		Reader:   bytes.NewReader(audio.Data),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", mapError(err))
	}
	return strings.TrimSpace(resp.Text), nil
}

func (c *Completion) clientFor() (*openai.Client, error) {
	key := strings.TrimSpace(c.keys.APIKey())
	if key == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not configured", domain.ErrCredential)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.key == key {
		return c.client, nil
	}
	cfg := openai.DefaultConfig(key)
	if c.cfg.APIBaseURL != "" {
		cfg.BaseURL = strings.TrimRight(c.cfg.APIBaseURL, "/")
	}
	c.client = openai.NewClientWithConfig(cfg)
	c.key = key
	return c.client, nil
}

func extensionFor(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(base) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	default:
		return ".webm"
	}
}

func toDefinition(s *ports.ResponseSchema) jsonschema.Definition {
	def := jsonschema.Definition{
		Type:     jsonschema.DataType(strings.ToLower(s.Type)),
		Required: s.Required,
		Enum:     s.Enum,
	}
	if s.Items != nil {
		items := toDefinition(s.Items)
		def.Items = &items
	}
	if len(s.Properties) > 0 {
		def.Properties = make(map[string]jsonschema.Definition, len(s.Properties))
		for name, prop := range s.Properties {
			def.Properties[name] = toDefinition(prop)
		}
		def.AdditionalProperties = false
	}
	return def
}

func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return mapStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return mapStatus(reqErr.HTTPStatusCode, reqErr.Error())
	}
	return err
}

func mapStatus(code int, message string) error {
	status := &domain.StatusError{Code: code, Message: message}
	switch code {
	case 401, 403:
		return fmt.Errorf("%w: %w", domain.ErrCredential, status)
	case 429, 503:
		return fmt.Errorf("%w: %w", domain.ErrRetryableService, status)
	default:
		return status
	}
}
