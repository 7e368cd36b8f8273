package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/chatreader/internal/graph"
	"github.com/kalambet/chatreader/internal/pipeline"
	"github.com/kalambet/chatreader/internal/vectors"
)

// Recaller searches embedded messages.
type Recaller interface {
	Recall(ctx context.Context, query string, k int) ([]vectors.ScoredRecord, error)
}

// NewMCPServer creates an MCP server exposing conversion and graph tools.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"chatreader",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("chatreader converts chat exports into an HTML archive and a concept graph."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("convert_export",
			mcp.WithDescription("Convert a chat export file: extract concepts, optionally import them into the graph, and write an HTML archive."),
			mcp.WithString("input", mcp.Description("Path to the export JSON file"), mcp.Required()),
			mcp.WithBoolean("import_hkg", mcp.Description("Merge the annotated messages into the knowledge graph")),
			mcp.WithString("model", mcp.Description("Extraction model; the configured default when empty")),
			mcp.WithString("html_dir", mcp.Description("Output directory for index.html")),
		),
		mcpConvert(deps),
	)

	s.AddTool(
		mcp.NewTool("graph_watermark",
			mcp.WithDescription("Return the timestamp of the newest message imported into the graph."),
		),
		mcpWatermark(deps),
	)

	s.AddTool(
		mcp.NewTool("related_concepts",
			mcp.WithDescription("List concepts linked to a concept by extracted relations."),
			mcp.WithString("concept", mcp.Description("Concept name"), mcp.Required()),
		),
		mcpRelated(deps),
	)

	if deps.Recaller != nil {
		s.AddTool(
			mcp.NewTool("recall",
				mcp.WithDescription("Semantically search imported messages."),
				mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
				mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
			),
			mcpRecall(deps),
		)
	}

	return s
}

func mcpConvert(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := req.RequireString("input")
		if err != nil {
			return mcpError("input is required"), nil
		}
		opts := pipeline.Options{
			InputPath: input,
			Import:    req.GetBool("import_hkg", false),
			Model:     req.GetString("model", ""),
			HTMLDir:   req.GetString("html_dir", ""),
		}

		rep, err := deps.Runner.TryRun(ctx, opts)
		if errors.Is(err, pipeline.ErrBusy) {
			return mcpError("a conversion is already running; try again later"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("conversion failed: %v", err)), nil
		}
		return mcpJSON(rep)
	}
}

func mcpWatermark(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var ts int64
		err := withGraph(ctx, deps.OpenGraph, func(g graph.Graph) (err error) {
			ts, err = g.Watermark(ctx)
			return err
		})
		if err != nil {
			return mcpError(fmt.Sprintf("reading watermark: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("%d", ts)), nil
	}
}

func mcpRelated(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("concept")
		if err != nil {
			return mcpError("concept is required"), nil
		}
		var rel []graph.Related
		err = withGraph(ctx, deps.OpenGraph, func(g graph.Graph) (err error) {
			rel, err = g.Related(ctx, name)
			return err
		})
		if err != nil {
			return mcpError(fmt.Sprintf("querying graph: %v", err)), nil
		}
		if len(rel) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(rel)
	}
}

func mcpRecall(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := min(max(req.GetInt("limit", 5), 1), 50)

		hits, err := deps.Recaller.Recall(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}

		type hit struct {
			ID        string   `json:"uuid"`
			Text      string   `json:"text"`
			Timestamp int64    `json:"timestamp"`
			Concepts  []string `json:"concepts"`
			Score     float32  `json:"score"`
		}
		out := make([]hit, len(hits))
		for i, h := range hits {
			out[i] = hit{ID: h.ID, Text: h.Text, Timestamp: h.Timestamp, Concepts: h.Concepts, Score: h.Score}
		}
		return mcpJSON(out)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
