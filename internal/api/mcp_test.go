package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/vidsift/internal/domain"
	"github.com/kalambet/vidsift/internal/embed"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func mcpTestDeps() MCPDeps {
	sd := searchDeps()
	return MCPDeps{
		Analyzer: sd.Analyzer,
		Results:  sd.Results,
		Searcher: sd.Searcher,
	}
}

func TestMCPTool_JobStatus(t *testing.T) {
	deps := mcpTestDeps()
	handler := mcpJobStatus(deps)

	result, err := handler(context.Background(), makeCallToolRequest("job_status", map[string]interface{}{
		"job_id": "job-1",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(toolText(t, result)), &job); err != nil {
		t.Fatalf("decoding job: %v", err)
	}
	if job.ID != "job-1" || job.Status != domain.StatusCompleted {
		t.Errorf("job = %+v", job)
	}
}

func TestMCPTool_JobStatus_MissingID(t *testing.T) {
	handler := mcpJobStatus(mcpTestDeps())

	result, err := handler(context.Background(), makeCallToolRequest("job_status", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing job_id")
	}
}

func TestMCPTool_SearchVideo(t *testing.T) {
	handler := mcpSearchVideo(mcpTestDeps())

	result, err := handler(context.Background(), makeCallToolRequest("search_video", map[string]interface{}{
		"job_id": "job-1",
		"query":  "hello",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var matches []struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &matches); err != nil {
		t.Fatalf("decoding matches: %v", err)
	}
	if len(matches) != 1 || matches[0].Text != "second" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestMCPTool_SearchVideo_LimitClamped(t *testing.T) {
	deps := mcpTestDeps()
	deps.Searcher = &mockSearcher{
		searchFn: func(_ context.Context, _ string, segments []domain.TranscriptSegment, _ []domain.Embedding) ([]embed.Match, error) {
			matches := make([]embed.Match, 8)
			for i := range matches {
				matches[i] = embed.Match{Segment: segments[0], Score: 1 - float64(i)/10}
			}
			return matches, nil
		},
	}
	handler := mcpSearchVideo(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_video", map[string]interface{}{
		"job_id": "job-1",
		"query":  "hello",
		"limit":  20,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var matches []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &matches); err != nil {
		t.Fatalf("decoding matches: %v", err)
	}
	if len(matches) != embed.MaxMatches {
		t.Errorf("got %d matches, want %d", len(matches), embed.MaxMatches)
	}
}

func TestMCPResource_RecentJobs(t *testing.T) {
	deps := mcpTestDeps()
	deps.Results = &mockResults{
		recentFn: func(limit int) ([]domain.Job, error) {
			if limit != 10 {
				t.Errorf("limit = %d, want 10", limit)
			}
			return []domain.Job{
				{ID: "job-1", Status: domain.StatusCompleted, Progress: 100, CreatedAt: time.Now().UTC()},
				{ID: "job-2", Status: domain.StatusTranscribing, Progress: 20, CreatedAt: time.Now().UTC()},
			}, nil
		},
	}
	handler := mcpResourceRecentJobs(deps)

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "jobs://recent"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}

	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var summaries []map[string]any
	if err := json.Unmarshal([]byte(text.Text), &summaries); err != nil {
		t.Fatalf("decoding summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Errorf("got %d summaries, want 2", len(summaries))
	}
}
