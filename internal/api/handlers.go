// Package api exposes the analysis pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/vidsift/internal/analysis"
	"github.com/kalambet/vidsift/internal/domain"
	"github.com/kalambet/vidsift/internal/embed"
	"github.com/kalambet/vidsift/internal/storage"
)

const defaultMaxUploadBytes = 512 << 20 // 512MB

// videoExtensions is the upload allowlist.
var videoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
}

// Analyzer accepts submissions and reports job state.
type Analyzer interface {
	Submit(ctx context.Context, upload io.Reader, fileName string) (string, error)
	GetStatus(id string) (domain.Job, error)
}

// ResultStore reads persisted analysis results.
type ResultStore interface {
	GetResult(resultID string) (domain.AnalysisResult, error)
	GetEmbeddings(resultID string) ([]domain.Embedding, error)
	ListRecentJobs(limit int) ([]domain.Job, error)
}

// Searcher embeds queries and ranks transcript segments against them.
type Searcher interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Search(ctx context.Context, query string, segments []domain.TranscriptSegment, embeddings []domain.Embedding) ([]embed.Match, error)
}

// VectorSearcher is the optional pgvector-backed search path.
type VectorSearcher interface {
	Search(ctx context.Context, jobID string, vector []float32, topK int) ([]storage.VectorMatch, error)
}

type AppDeps struct {
	Analyzer       Analyzer
	Results        ResultStore
	Searcher       Searcher
	Vectors        VectorSearcher // optional; if nil, search always runs locally
	Token          string
	MaxUploadBytes int64
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/analyses", handleSubmit(deps))
		r.Get("/analyses/{id}", handleStatus(deps))
		r.Get("/analyses/{id}/result", handleResult(deps))
		r.Get("/analyses/{id}/search", handleSearch(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSubmit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)
		defer r.Body.Close()

		file, header, err := r.FormFile("video")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "video file is required: %v", err)
			return
		}
		defer file.Close()

		name := filepath.Base(header.Filename)
		ext := strings.ToLower(filepath.Ext(name))
		if !videoExtensions[ext] {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported file type %q", ext)
			return
		}

		jobID, err := deps.Analyzer.Submit(r.Context(), file, name)
		if errors.Is(err, analysis.ErrMediaUnavailable) {
			httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to submit: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"job_id": jobID,
			"status": domain.StatusCreated,
		})
	}
}

// handleStatus always answers 200: unknown job ids come back as a not_found
// status document so pollers never have to branch on errors.
func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Analyzer.GetStatus(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)
	}
}

func handleResult(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := deps.Analyzer.GetStatus(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load job: %v", err)
			return
		}
		if job.ResultID == "" {
			httpError(w, http.StatusNotFound, "not_found_error", "job %s has no result", id)
			return
		}

		result, err := deps.Results.GetResult(job.ResultID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load result: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !r.URL.Query().Has("q") {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query parameter q is required")
			return
		}
		query := r.URL.Query().Get("q")

		matches, err := searchJob(r.Context(), deps, id, query, 0)
		if errors.Is(err, errNoResult) {
			httpError(w, http.StatusNotFound, "not_found_error", "job %s has no result", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"query":   query,
			"matches": matches,
		})
	}
}

var errNoResult = errors.New("job has no result")

// searchJob ranks a job's transcript against query. The pgvector index is
// used when configured; any failure there falls back to scoring the locally
// stored embeddings. topK <= 0 means the default of five.
func searchJob(ctx context.Context, deps AppDeps, jobID, query string, topK int) ([]embed.Match, error) {
	job, err := deps.Analyzer.GetStatus(jobID)
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	if job.ResultID == "" {
		return nil, errNoResult
	}

	if deps.Vectors != nil {
		matches, err := searchVectorIndex(ctx, deps, jobID, query, topK)
		if err == nil {
			return matches, nil
		}
		slog.Warn("vector index search failed, falling back to local embeddings",
			"job_id", jobID, "error", err)
	}

	result, err := deps.Results.GetResult(job.ResultID)
	if err != nil {
		return nil, fmt.Errorf("loading result: %w", err)
	}
	embeddings, err := deps.Results.GetEmbeddings(job.ResultID)
	if err != nil {
		return nil, fmt.Errorf("loading embeddings: %w", err)
	}

	segments, aligned := alignEmbeddings(result.Transcript, embeddings)
	matches, err := deps.Searcher.Search(ctx, query, segments, aligned)
	if err != nil {
		return nil, err
	}
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	if matches == nil {
		matches = []embed.Match{}
	}
	return matches, nil
}

func searchVectorIndex(ctx context.Context, deps AppDeps, jobID, query string, topK int) ([]embed.Match, error) {
	if strings.TrimSpace(query) == "" {
		return []embed.Match{}, nil
	}
	vec, err := deps.Searcher.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vec) == 0 {
		return []embed.Match{}, nil
	}
	if topK <= 0 {
		topK = embed.MaxMatches
	}

	hits, err := deps.Vectors.Search(ctx, jobID, vec, topK)
	if err != nil {
		return nil, err
	}
	matches := make([]embed.Match, len(hits))
	for i, h := range hits {
		matches[i] = embed.Match{Segment: h.Segment, Score: h.Score}
	}
	return matches, nil
}

// alignEmbeddings pairs stored embeddings with their transcript segments via
// the segment_<i> back-reference, producing equal-length slices in embedding
// order. Embeddings whose tag falls outside the transcript are dropped.
func alignEmbeddings(transcript []domain.TranscriptSegment, embeddings []domain.Embedding) ([]domain.TranscriptSegment, []domain.Embedding) {
	segments := make([]domain.TranscriptSegment, 0, len(embeddings))
	aligned := make([]domain.Embedding, 0, len(embeddings))
	for _, e := range embeddings {
		i, ok := domain.ParseSegmentTag(e.SegmentID)
		if !ok || i < 0 || i >= len(transcript) {
			continue
		}
		segments = append(segments, transcript[i])
		aligned = append(aligned, e)
	}
	return segments, aligned
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
