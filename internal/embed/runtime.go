package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Model produces per-token hidden states for one encoded input.
type Model interface {
	HiddenStates(ctx context.Context, inputIDs, attentionMask []int64) ([][]float32, error)
}

// RuntimeClient talks to a local inference runtime over HTTP.
type RuntimeClient struct {
	baseURL string
	model   string
	client  *http.Client

	mu     sync.Mutex
	loaded bool
}

// NewRuntimeClient creates a client for the runtime at baseURL serving model.
func NewRuntimeClient(baseURL, model string) *RuntimeClient {
	return &RuntimeClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsRunning probes the runtime health endpoint.
func (c *RuntimeClient) IsRunning(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EnsureModelReady loads the embedding model into the runtime once. Safe for
// concurrent callers; only the first one pays the load cost.
func (c *RuntimeClient) EnsureModelReady(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}

	body, err := json.Marshal(map[string]string{"model": c.model})
	if err != nil {
		return fmt.Errorf("encoding load request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/models/load", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("loading model %s: %w", c.model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("loading model %s: runtime returned %d: %s", c.model, resp.StatusCode, msg)
	}

	c.loaded = true
	return nil
}

type hiddenStatesRequest struct {
	Model         string  `json:"model"`
	InputIDs      []int64 `json:"input_ids"`
	AttentionMask []int64 `json:"attention_mask"`
}

type hiddenStatesResponse struct {
	HiddenStates [][]float32 `json:"hidden_states"`
	Error        string      `json:"error,omitempty"`
}

// HiddenStates runs one forward pass and returns a [tokens][dim] matrix.
func (c *RuntimeClient) HiddenStates(ctx context.Context, inputIDs, attentionMask []int64) ([][]float32, error) {
	if err := c.EnsureModelReady(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(hiddenStatesRequest{
		Model:         c.model,
		InputIDs:      inputIDs,
		AttentionMask: attentionMask,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding inference request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/hidden-states", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("running inference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("running inference: runtime returned %d: %s", resp.StatusCode, msg)
	}

	var out hiddenStatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding inference response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("running inference: %s", out.Error)
	}
	return out.HiddenStates, nil
}
