// Package gemini adapts the Gemini API to the completion and live voice ports.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"visitnote/internal/domain"
	"visitnote/internal/ports"
)

// CompletionConfig controls single-shot generation.
type CompletionConfig struct {
	Model      string
	APIBaseURL string
}

// Completion implements ports.CompletionService with the genai SDK.
type Completion struct {
	keys ports.KeySource
	cfg  CompletionConfig

	mu     sync.Mutex
	key    string
	client *genai.Client
}

func NewCompletion(keys ports.KeySource, cfg CompletionConfig) *Completion {
	if cfg.Model == "" {
		cfg.Model = "gemini-3-pro-preview"
	}
	return &Completion{keys: keys, cfg: cfg}
}

func (c *Completion) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	client, err := c.clientFor(ctx)
	if err != nil {
		return "", err
	}

	parts := make([]*genai.Part, 0, 2)
	if req.Audio != nil && len(req.Audio.Data) > 0 {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: req.Audio.Data, MIMEType: req.Audio.MIMEType}})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})

	temperature := req.Temperature
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}}
	}
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = toSchema(req.Schema)
	}

	resp, err := client.Models.GenerateContent(ctx, c.cfg.Model, []*genai.Content{{Role: "user", Parts: parts}}, config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", mapAPIError(err))
	}
	return resp.Text(), nil
}

// clientFor returns a client bound to the current key, rebuilding it when the key changes.
func (c *Completion) clientFor(ctx context.Context) (*genai.Client, error) {
	key := strings.TrimSpace(c.keys.APIKey())
	if key == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not configured", domain.ErrCredential)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.key == key {
		return c.client, nil
	}

	cc := &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
	if c.cfg.APIBaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: c.cfg.APIBaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	c.client = client
	c.key = key
	return client, nil
}

func toSchema(s *ports.ResponseSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:     genai.Type(strings.ToUpper(s.Type)),
		Required: s.Required,
		Enum:     s.Enum,
		Items:    toSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toSchema(prop)
		}
	}
	return out
}
