package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"visitnote/internal/domain"
)

type fakeAnalyzer struct {
	rec    *domain.Recording
	note   string
	kind   domain.SupplementKind
	soap   domain.CareNote
	result domain.AnalysisResult
	text   string
	err    error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, rec *domain.Recording, note string) (domain.AnalysisResult, error) {
	f.rec = rec
	f.note = note
	return f.result, f.err
}

func (f *fakeAnalyzer) Supplement(_ context.Context, kind domain.SupplementKind, note domain.CareNote, _ []domain.CarePlanEntry) (string, error) {
	f.kind = kind
	f.soap = note
	return f.text, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return text.Text
}

func TestAnalyzeToolReturnsJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "visit.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	analyzer := &fakeAnalyzer{result: domain.AnalysisResult{Summary: "安定", ThreatLevel: domain.ThreatWolf}}
	tl := &tools{analyzer: analyzer, logger: discardLogger()}

	res, err := tl.analyze(context.Background(), callRequest(ToolAnalyze, map[string]any{
		"note":       "BP 120/80",
		"audio_path": path,
	}))
	if err != nil {
		t.Fatalf("tool failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}

	var decoded domain.AnalysisResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &decoded); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if decoded.Summary != "安定" || decoded.ThreatLevel != domain.ThreatWolf {
		t.Fatalf("unexpected result: %+v", decoded)
	}
	if analyzer.note != "BP 120/80" || analyzer.rec == nil || analyzer.rec.MIMEType != "audio/wav" {
		t.Fatalf("analyzer got unexpected input: %q %+v", analyzer.note, analyzer.rec)
	}
}

func TestAnalyzeToolSurfacesErrors(t *testing.T) {
	t.Parallel()

	tl := &tools{analyzer: &fakeAnalyzer{err: &domain.ServiceUnavailableError{Attempts: 3, Cause: domain.ErrRetryableService}}, logger: discardLogger()}
	res, err := tl.analyze(context.Background(), callRequest(ToolAnalyze, map[string]any{"note": "x"}))
	if err != nil {
		t.Fatalf("tool failed: %v", err)
	}
	if !res.IsError || resultText(t, res) != domain.ServiceUnavailableMessage {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, _ = tl.analyze(context.Background(), callRequest(ToolAnalyze, map[string]any{"audio_path": "/does/not/exist.webm"}))
	if !res.IsError || !strings.Contains(resultText(t, res), "failed to read recording") {
		t.Fatalf("expected read error, got %+v", res)
	}
}

func TestSupplementTool(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{text: "申し送り"}
	tl := &tools{analyzer: analyzer, logger: discardLogger()}

	analysis, _ := json.Marshal(domain.AnalysisResult{Soap: domain.CareNote{Plan: "訪問継続"}})
	res, err := tl.supplement(context.Background(), callRequest(ToolSupplement, map[string]any{
		"kind":     "handover",
		"analysis": string(analysis),
	}))
	if err != nil {
		t.Fatalf("tool failed: %v", err)
	}
	if res.IsError || resultText(t, res) != "申し送り" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if analyzer.kind != domain.SupplementHandover || analyzer.soap.Plan != "訪問継続" {
		t.Fatalf("analyzer got unexpected input: %s %+v", analyzer.kind, analyzer.soap)
	}
}

func TestSupplementToolValidatesArguments(t *testing.T) {
	t.Parallel()

	tl := &tools{analyzer: &fakeAnalyzer{}, logger: discardLogger()}

	res, _ := tl.supplement(context.Background(), callRequest(ToolSupplement, map[string]any{"analysis": "{}"}))
	if !res.IsError {
		t.Fatalf("missing kind should be a tool error")
	}
	res, _ = tl.supplement(context.Background(), callRequest(ToolSupplement, map[string]any{"kind": "insight", "analysis": "{"}))
	if !res.IsError || !strings.Contains(resultText(t, res), "not valid JSON") {
		t.Fatalf("expected JSON error, got %+v", res)
	}
}

func TestNewRegistersTools(t *testing.T) {
	t.Parallel()

	if s := New(&fakeAnalyzer{}, "test", nil); s == nil {
		t.Fatalf("expected server")
	}
}
