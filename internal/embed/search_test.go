package embed

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/kalambet/vidsift/internal/domain"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"both empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_LengthMismatch(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1}, []float32{1, 2}); err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

// searchFixture returns an engine whose query embedding is always [1, 0],
// plus n segments embedded progressively closer to the query.
func searchFixture(t *testing.T, n int) (*Engine, []domain.TranscriptSegment, []domain.Embedding) {
	t.Helper()
	e := NewEngine(constantModel([]float32{1, 0}), newTestTokenizer(t))

	segments := make([]domain.TranscriptSegment, n)
	embeddings := make([]domain.Embedding, n)
	for i := 0; i < n; i++ {
		segments[i] = domain.TranscriptSegment{Text: fmt.Sprintf("segment %d", i)}
		// Later segments point closer to [1, 0].
		embeddings[i] = domain.Embedding{
			SegmentID: domain.SegmentTag(i),
			Vector:    []float32{float32(i), float32(n - i)},
		}
	}
	return e, segments, embeddings
}

func TestSearch_TopFiveDescending(t *testing.T) {
	e, segments, embeddings := searchFixture(t, 8)

	matches, err := e.Search(context.Background(), "hello", segments, embeddings)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 5 {
		t.Fatalf("got %d matches, want 5", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Errorf("matches not descending at %d: %v > %v", i, matches[i].Score, matches[i-1].Score)
		}
	}
	if matches[0].Segment.Text != "segment 7" {
		t.Errorf("best match = %q, want segment 7", matches[0].Segment.Text)
	}
}

func TestSearch_BlankQuery(t *testing.T) {
	e, segments, embeddings := searchFixture(t, 3)

	matches, err := e.Search(context.Background(), "   ", segments, embeddings)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("got %d matches for blank query, want 0", len(matches))
	}
}

func TestSearch_ExcludesNaNScores(t *testing.T) {
	e, segments, embeddings := searchFixture(t, 3)
	embeddings[1].Vector = []float32{float32(math.NaN()), 1}

	matches, err := e.Search(context.Background(), "hello", segments, embeddings)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2 (NaN excluded)", len(matches))
	}
	for _, m := range matches {
		if m.Segment.Text == "segment 1" {
			t.Error("NaN-scored segment made it into the results")
		}
	}
}

func TestSearch_MismatchedSliceLengths(t *testing.T) {
	e, segments, embeddings := searchFixture(t, 4)

	// Extra segments without embeddings are ignored.
	matches, err := e.Search(context.Background(), "hello", segments, embeddings[:2])
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("got %d matches, want 2", len(matches))
	}
}

func TestSearch_DimensionMismatchIsError(t *testing.T) {
	e, segments, embeddings := searchFixture(t, 2)
	embeddings[0].Vector = []float32{1, 2, 3}

	if _, err := e.Search(context.Background(), "hello", segments, embeddings); err == nil {
		t.Fatal("expected error for embedding with wrong dimensionality")
	}
}
