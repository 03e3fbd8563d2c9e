// Package mcpserver exposes visit analysis as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"visitnote/internal/audio"
	"visitnote/internal/domain"
	"visitnote/internal/usecase"
)

const (
	ToolAnalyze    = "analyze_visit"
	ToolSupplement = "generate_supplement"
)

type tools struct {
	analyzer usecase.Analyzer
	logger   *slog.Logger
}

// New builds an MCP server with the analysis tools registered.
func New(analyzer usecase.Analyzer, version string, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	t := &tools{analyzer: analyzer, logger: logger.With(slog.String("component", "mcp"))}

	s := server.NewMCPServer("visitnote", version, server.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool(ToolAnalyze,
		mcp.WithDescription("Turn a home-visit recording and/or note into a SOAP note, care plan, summary and threat level."),
		mcp.WithString("note", mcp.Description("Free-text visit note")),
		mcp.WithString("audio_path", mcp.Description("Path to a recorded visit (webm, wav, ogg, mp3, m4a)")),
		mcp.WithString("mime_type", mcp.Description("Audio MIME type; inferred from the extension when omitted")),
	), t.analyze)
	s.AddTool(mcp.NewTool(ToolSupplement,
		mcp.WithDescription("Generate insight, family report or handover text from a previous analysis."),
		mcp.WithString("kind", mcp.Required(), mcp.Enum(
			string(domain.SupplementInsight),
			string(domain.SupplementFamilyReport),
			string(domain.SupplementHandover),
		)),
		mcp.WithString("analysis", mcp.Required(), mcp.Description("JSON analysis returned by analyze_visit")),
	), t.supplement)
	return s
}

// ServeStdio runs the server on stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (t *tools) analyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	note := req.GetString("note", "")
	var rec *domain.Recording
	if path := strings.TrimSpace(req.GetString("audio_path", "")); path != "" {
		loaded, err := audio.ReadRecordingFile(path, req.GetString("mime_type", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rec = loaded
	}

	result, err := t.analyzer.Analyze(ctx, rec, note)
	if err != nil {
		t.logger.Warn("analyze_visit failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError(toolMessage(err)), nil
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis: %w", err)
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

func (t *tools) supplement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("analysis")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis is not valid JSON: %v", err)), nil
	}

	text, err := t.analyzer.Supplement(ctx, domain.SupplementKind(kind), result.Soap, result.CarePlan)
	if err != nil {
		t.logger.Warn("generate_supplement failed", slog.String("kind", kind), slog.String("error", err.Error()))
		return mcp.NewToolResultError(toolMessage(err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func toolMessage(err error) string {
	var unavailable *domain.ServiceUnavailableError
	if errors.As(err, &unavailable) {
		return unavailable.UserMessage()
	}
	return err.Error()
}
