// Package scenes turns a sampled frame sequence into scene boundaries by
// scoring consecutive frames against a vision model.
package scenes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/vidsift/internal/domain"
)

// VisionModel scores and describes frames. Implementations wrap an external
// inference runtime; the detector only aggregates their answers.
type VisionModel interface {
	// CompareFrames returns the visual dissimilarity of two frames in [0,1],
	// where 1 means completely different.
	CompareFrames(ctx context.Context, prevPath, curPath string) (float64, error)

	// DescribeScene produces a short title and description for a frame.
	DescribeScene(ctx context.Context, framePath string) (title, description string, err error)
}

// DefaultThreshold is the dissimilarity above which a scene boundary is cut.
const DefaultThreshold = 0.7

// Detector aggregates per-frame vision scores into scenes.
type Detector struct {
	vision        VisionModel
	frameInterval float64 // seconds between sampled frames
}

// NewDetector creates a Detector. frameInterval is the sampling period of the
// frame list in seconds (1/framesPerSecond).
func NewDetector(vision VisionModel, frameInterval float64) *Detector {
	if frameInterval <= 0 {
		frameInterval = 1
	}
	return &Detector{vision: vision, frameInterval: frameInterval}
}

// DetectScenes walks framePaths in order, cutting a boundary wherever the
// dissimilarity of consecutive frames exceeds threshold. onProgress, if
// non-nil, receives the number of frames processed so far; the final call
// reports len(framePaths).
func (d *Detector) DetectScenes(ctx context.Context, framePaths []string, threshold float64, onProgress func(processed int)) ([]domain.Scene, error) {
	if len(framePaths) == 0 {
		return nil, nil
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	report := func(n int) {
		if onProgress != nil {
			onProgress(n)
		}
	}

	// The first frame opens the first scene with no comparison to make.
	report(1)

	var scenes []domain.Scene
	sceneStart := 0
	for i := 1; i < len(framePaths); i++ {
		score, err := d.vision.CompareFrames(ctx, framePaths[i-1], framePaths[i])
		if err != nil {
			return nil, fmt.Errorf("comparing frames %d and %d: %w", i-1, i, err)
		}
		report(i + 1)

		if score > threshold {
			scenes = append(scenes, d.buildScene(ctx, framePaths, len(scenes), sceneStart, i))
			sceneStart = i
		}
	}
	scenes = append(scenes, d.buildScene(ctx, framePaths, len(scenes), sceneStart, len(framePaths)))

	return scenes, nil
}

// buildScene closes the scene spanning frames [start, end) and asks the
// vision model for a title. Description failures degrade to a numbered title
// rather than failing the stage.
func (d *Detector) buildScene(ctx context.Context, framePaths []string, index, start, end int) domain.Scene {
	scene := domain.Scene{
		Title:     fmt.Sprintf("Scene %d", index+1),
		StartTime: float64(start) * d.frameInterval,
		EndTime:   float64(end) * d.frameInterval,
	}

	title, description, err := d.vision.DescribeScene(ctx, framePaths[start])
	if err != nil {
		slog.Warn("scene description failed, keeping numbered title", "scene", index+1, "error", err)
		return scene
	}
	if title != "" {
		scene.Title = title
	}
	scene.Description = description
	return scene
}
