package embed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/kalambet/vidsift/internal/domain"
)

// MaxMatches caps how many segments a search returns.
const MaxMatches = 5

// Match pairs a transcript segment with its similarity to the query.
type Match struct {
	Segment domain.TranscriptSegment `json:"segment"`
	Score   float64                  `json:"score"`
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Vectors of different lengths are an error; a zero-magnitude vector scores
// 0.0 against anything.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}

// Search ranks segments against the query and returns up to five best
// matches in descending score order. segments[i] is scored with
// embeddings[i]; extra entries on either side are ignored. A blank query or
// a query that cannot be embedded returns no matches.
func (e *Engine) Search(ctx context.Context, query string, segments []domain.TranscriptSegment, embeddings []domain.Embedding) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	qvec, err := e.EmbedText(ctx, query)
	if err != nil {
		slog.Warn("query embedding failed", "error", err)
		return nil, nil
	}
	if len(qvec) == 0 {
		return nil, nil
	}

	n := len(segments)
	if len(embeddings) < n {
		n = len(embeddings)
	}

	matches := make([]Match, 0, n)
	for i := 0; i < n; i++ {
		score, err := CosineSimilarity(qvec, embeddings[i].Vector)
		if err != nil {
			return nil, fmt.Errorf("scoring segment %d: %w", i, err)
		}
		if math.IsNaN(score) {
			continue
		}
		matches = append(matches, Match{Segment: segments[i], Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > MaxMatches {
		matches = matches[:MaxMatches]
	}
	return matches, nil
}
