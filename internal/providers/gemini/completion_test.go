package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"visitnote/internal/analysis"
	"visitnote/internal/domain"
	"visitnote/internal/ports"
)

type recordedRequest struct {
	path string
	key  string
	body map[string]any
}

func newGenerateServer(t *testing.T, status int, response string) (*httptest.Server, func() []recordedRequest) {
	t.Helper()

	var (
		mu       sync.Mutex
		requests []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		mu.Lock()
		requests = append(requests, recordedRequest{path: r.URL.Path, key: r.Header.Get("x-goog-api-key"), body: body})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), requests...)
	}
}

func TestCompletionSendsPromptAndReturnsText(t *testing.T) {
	t.Parallel()

	srv, requests := newGenerateServer(t, http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"hello nurse"}]}}]}`)
	completion := NewCompletion(staticKey("secret"), CompletionConfig{Model: "gemini-test", APIBaseURL: srv.URL + "/"})

	text, err := completion.Complete(context.Background(), ports.CompletionRequest{
		SystemInstruction: "be strict",
		Prompt:            "vitals stable",
		Audio:             &ports.InlineAudio{Data: []byte("pcm"), MIMEType: "audio/webm"},
		Schema:            analysis.ResponseSchema(),
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if text != "hello nurse" {
		t.Fatalf("unexpected text %q", text)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("expected one request, got %d", len(got))
	}
	if !strings.HasSuffix(got[0].path, "models/gemini-test:generateContent") {
		t.Fatalf("unexpected path %q", got[0].path)
	}
	if got[0].key != "secret" {
		t.Fatalf("expected api key header, got %q", got[0].key)
	}
	if _, ok := got[0].body["systemInstruction"]; !ok {
		t.Fatalf("expected system instruction in body: %v", got[0].body)
	}
	encoded, _ := json.Marshal(got[0].body)
	if !strings.Contains(string(encoded), "cGNt") || !strings.Contains(string(encoded), "vitals stable") {
		t.Fatalf("expected inline audio and prompt in body: %s", encoded)
	}
}

func TestCompletionMapsRateLimitToRetryable(t *testing.T) {
	t.Parallel()

	srv, _ := newGenerateServer(t, http.StatusTooManyRequests, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`)
	completion := NewCompletion(staticKey("secret"), CompletionConfig{Model: "gemini-test", APIBaseURL: srv.URL + "/"})

	_, err := completion.Complete(context.Background(), ports.CompletionRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrRetryableService) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if !analysis.IsRetryable(err) {
		t.Fatalf("expected analysis client to retry %v", err)
	}
}

func TestCompletionMapsForbiddenToCredential(t *testing.T) {
	t.Parallel()

	srv, _ := newGenerateServer(t, http.StatusForbidden, `{"error":{"code":403,"message":"Method doesn't allow unregistered callers","status":"PERMISSION_DENIED"}}`)
	completion := NewCompletion(staticKey("secret"), CompletionConfig{Model: "gemini-test", APIBaseURL: srv.URL + "/"})

	_, err := completion.Complete(context.Background(), ports.CompletionRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrCredential) {
		t.Fatalf("expected credential error, got %v", err)
	}
}

func TestCompletionWithoutKey(t *testing.T) {
	t.Parallel()

	_, err := NewCompletion(staticKey(""), CompletionConfig{}).Complete(context.Background(), ports.CompletionRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrCredential) {
		t.Fatalf("expected credential error, got %v", err)
	}
}

func TestToSchemaUppercasesTypes(t *testing.T) {
	t.Parallel()

	schema := toSchema(analysis.ResponseSchema())
	if schema.Type != "OBJECT" || schema.Properties["carePlan"].Items.Type != "OBJECT" || schema.Properties["summary"].Type != "STRING" {
		t.Fatalf("unexpected schema conversion: %+v", schema)
	}
	if len(schema.Properties["threatLevel"].Enum) != 4 {
		t.Fatalf("expected enum to be kept")
	}
}
