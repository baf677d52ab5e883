package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vidsift/internal/embed"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Analyzer Analyzer
	Results  ResultStore
	Searcher Searcher
	Vectors  VectorSearcher // optional
}

// NewMCPServer creates an MCP server exposing video search and job status
// to agent clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"vidsift",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("vidsift: semantic search over analyzed video transcripts and scenes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_video",
			mcp.WithDescription("Semantically search the transcript of an analyzed video and return the best matching segments."),
			mcp.WithString("job_id", mcp.Description("Id of a completed analysis job"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (at most 5)")),
		),
		mcpSearchVideo(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Report the current status and progress of an analysis job."),
			mcp.WithString("job_id", mcp.Description("Id of the job to inspect"), mcp.Required()),
		),
		mcpJobStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"jobs://recent",
			"Recent Jobs",
			mcp.WithResourceDescription("Last 10 analysis jobs with status and progress"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentJobs(deps),
	)

	return s
}

func mcpSearchVideo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", embed.MaxMatches)
		if limit <= 0 || limit > embed.MaxMatches {
			limit = embed.MaxMatches
		}

		appDeps := AppDeps{
			Analyzer: deps.Analyzer,
			Results:  deps.Results,
			Searcher: deps.Searcher,
			Vectors:  deps.Vectors,
		}
		matches, err := searchJob(ctx, appDeps, jobID, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(matches) == 0 {
			return mcpText("[]"), nil
		}

		type matchResult struct {
			StartTime float64 `json:"start_time"`
			EndTime   float64 `json:"end_time"`
			Text      string  `json:"text"`
			Speaker   string  `json:"speaker"`
			Score     float64 `json:"score"`
		}

		results := make([]matchResult, len(matches))
		for i, m := range matches {
			results[i] = matchResult{
				StartTime: m.Segment.StartTime,
				EndTime:   m.Segment.EndTime,
				Text:      m.Segment.Text,
				Speaker:   m.Segment.Speaker,
				Score:     m.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpJobStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		job, err := deps.Analyzer.GetStatus(jobID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load job: %v", err)), nil
		}

		b, err := json.Marshal(job)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal job: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecentJobs(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jobs, err := deps.Results.ListRecentJobs(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}

		type jobSummary struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Progress int    `json:"progress"`
			File     string `json:"file,omitempty"`
			Created  string `json:"created_at"`
		}

		summaries := make([]jobSummary, len(jobs))
		for i, j := range jobs {
			summaries[i] = jobSummary{
				ID:       j.ID,
				Status:   string(j.Status),
				Progress: j.Progress,
				File:     j.OriginalFileName,
				Created:  j.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal jobs: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
