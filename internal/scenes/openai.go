package scenes

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIVision implements VisionModel against an OpenAI-compatible multimodal
// chat endpoint (a local llama.cpp/vLLM server or the hosted API).
type OpenAIVision struct {
	cli   *openai.Client
	model string
}

// NewOpenAIVision creates a vision client. baseURL may point at any
// OpenAI-compatible server; empty keeps the library default.
func NewOpenAIVision(baseURL, apiKey, model string) *OpenAIVision {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIVision{cli: openai.NewClientWithConfig(cfg), model: model}
}

const comparePrompt = "Rate how visually different these two video frames are " +
	"on a scale from 0.0 (identical shot) to 1.0 (completely different shot). " +
	"Respond with only the number."

// CompareFrames asks the model for a dissimilarity score of two frames.
func (v *OpenAIVision) CompareFrames(ctx context.Context, prevPath, curPath string) (float64, error) {
	prevURL, err := frameDataURL(prevPath)
	if err != nil {
		return 0, err
	}
	curURL, err := frameDataURL(curPath)
	if err != nil {
		return 0, err
	}

	resp, err := v.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     v.model,
		MaxTokens: 8,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: comparePrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: prevURL, Detail: openai.ImageURLDetailLow}},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: curURL, Detail: openai.ImageURLDetailLow}},
				},
			},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("requesting frame comparison: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("frame comparison returned no choices")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	score, err := strconv.ParseFloat(strings.TrimSuffix(raw, "."), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing comparison score %q: %w", raw, err)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

const describePrompt = "Describe this video frame as the opening of a scene. " +
	`Respond with JSON: {"title": "<max 6 words>", "description": "<one sentence>"}`

// DescribeScene asks the model for a title and description of a scene's
// opening frame.
func (v *OpenAIVision) DescribeScene(ctx context.Context, framePath string) (string, string, error) {
	frameURL, err := frameDataURL(framePath)
	if err != nil {
		return "", "", err
	}

	resp, err := v.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     v.model,
		MaxTokens: 120,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: describePrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: frameURL, Detail: openai.ImageURLDetailLow}},
				},
			},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("requesting scene description: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", fmt.Errorf("scene description returned no choices")
	}

	var described struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	// Some models wrap JSON in a code fence.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.Trim(raw, "` \n")
	if err := json.Unmarshal([]byte(raw), &described); err != nil {
		return "", "", fmt.Errorf("parsing scene description %q: %w", raw, err)
	}
	return described.Title, described.Description, nil
}

// frameDataURL reads a JPEG frame and encodes it as a base64 data URL.
func frameDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading frame %s: %w", path, err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}
