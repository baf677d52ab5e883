package embed

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/vidsift/internal/domain"
)

// batchConcurrency bounds parallel inference calls during batch embedding.
const batchConcurrency = 4

// Engine embeds transcript segments and ad-hoc query text.
type Engine struct {
	model Model
	tok   *Tokenizer
}

// NewEngine wires a tokenizer and a model into an embedding engine.
func NewEngine(model Model, tok *Tokenizer) *Engine {
	return &Engine{model: model, tok: tok}
}

// EmbedSegments embeds every non-blank segment and returns the embeddings in
// input order. Each embedding is tagged with the position of its segment in
// the input slice, so blanks leave holes in the tag sequence rather than
// shifting it. Per-segment inference failures are logged and skipped so one
// bad segment does not sink the whole transcript.
func (e *Engine) EmbedSegments(ctx context.Context, segments []domain.TranscriptSegment) ([]domain.Embedding, error) {
	type task struct {
		index int
		text  string
	}
	var tasks []task
	for i, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		tasks = append(tasks, task{index: i, text: seg.Text})
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(tasks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for ti, tk := range tasks {
		g.Go(func() error {
			vec, err := e.EmbedText(gctx, tk.text)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("skipping segment that failed to embed",
					"segment", tk.index, "error", err)
				return nil
			}
			mu.Lock()
			vectors[ti] = vec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	embeddings := make([]domain.Embedding, 0, len(tasks))
	for ti, tk := range tasks {
		if vectors[ti] == nil {
			continue
		}
		embeddings = append(embeddings, domain.Embedding{
			SegmentID: domain.SegmentTag(tk.index),
			Vector:    vectors[ti],
		})
	}
	return embeddings, nil
}

// EmbedText embeds a single piece of text. Whitespace-only text yields a nil
// vector and no error.
func (e *Engine) EmbedText(ctx context.Context, text string) ([]float32, error) {
	inputIDs, attentionMask := e.tok.Encode(text)
	if len(inputIDs) == 0 {
		return nil, nil
	}
	states, err := e.model.HiddenStates(ctx, inputIDs, attentionMask)
	if err != nil {
		return nil, err
	}
	return meanPool(states, attentionMask), nil
}

// meanPool averages hidden states over the positions the attention mask marks
// as valid. With no valid positions the result stays all zeros.
func meanPool(states [][]float32, mask []int64) []float32 {
	if len(states) == 0 {
		return nil
	}
	dim := len(states[0])
	pooled := make([]float32, dim)

	var valid int
	for i, state := range states {
		if i < len(mask) && mask[i] == 0 {
			continue
		}
		valid++
		for j := 0; j < dim && j < len(state); j++ {
			pooled[j] += state[j]
		}
	}
	if valid == 0 {
		return pooled
	}
	for j := range pooled {
		pooled[j] /= float32(valid)
	}
	return pooled
}
