// Package analysis orchestrates the video pipeline: audio extraction,
// transcription, scene detection, embedding, and result persistence.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/vidsift/internal/domain"
	"github.com/kalambet/vidsift/internal/storage"
)

// ErrMediaUnavailable reports that the ffmpeg binary cannot be found, which
// makes every submission pointless.
var ErrMediaUnavailable = errors.New("ffmpeg is not available on PATH")

// JobStore abstracts the job queue and result persistence.
type JobStore interface {
	CreateJob(id, originalFileName, videoPath string) (string, error)
	ClaimNextJob() (*storage.JobRecord, error)
	UpdateJobStatus(id string, status domain.JobStatus, message string, progress int) error
	CompleteJob(id, resultID string) error
	FailJob(id, message string) error
	GetJob(id string) (domain.Job, error)
	SaveResult(jobID string, transcript []domain.TranscriptSegment, scenes []domain.Scene, embeddings []domain.Embedding) (string, error)
}

// FileStore manages uploads and per-job scratch space on disk.
type FileStore interface {
	Root() string
	Save(r io.Reader, name string) (string, error)
	Delete(path string) error
	CreateTempDir(name string) (string, error)
	DeleteDir(path string) error
}

// MediaExtractor pulls audio tracks and frame sequences out of video files.
type MediaExtractor interface {
	Available() bool
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
	ExtractFrames(ctx context.Context, videoPath, outDir string, framesPerSecond int) ([]string, error)
}

// Transcriber converts an audio file into timed transcript segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string, onProgress func(count int)) ([]domain.TranscriptSegment, error)
}

// SceneDetector groups a frame sequence into scenes.
type SceneDetector interface {
	DetectScenes(ctx context.Context, framePaths []string, threshold float64, onProgress func(processed int)) ([]domain.Scene, error)
}

// Embedder generates embeddings for transcript segments.
type Embedder interface {
	EmbedSegments(ctx context.Context, segments []domain.TranscriptSegment) ([]domain.Embedding, error)
}

// VectorIndex mirrors result embeddings into an external vector store.
type VectorIndex interface {
	IndexResult(ctx context.Context, jobID, resultID string, transcript []domain.TranscriptSegment, embeddings []domain.Embedding) error
}

// Options tunes pipeline execution.
type Options struct {
	Workers         int
	PollInterval    time.Duration
	Language        string
	FramesPerSecond int
	SceneThreshold  float64
}

// Service accepts video submissions and runs the analysis pipeline on a pool
// of background workers.
type Service struct {
	store      JobStore
	files      FileStore
	media      MediaExtractor
	transcribe Transcriber
	scenes     SceneDetector
	embedder   Embedder
	vectors    VectorIndex

	opts   Options
	logger *slog.Logger
}

// NewService wires pipeline collaborators together. vectors may be nil when
// no external vector store is configured.
func NewService(store JobStore, files FileStore, media MediaExtractor, transcribe Transcriber, scenes SceneDetector, embedder Embedder, vectors VectorIndex, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.FramesPerSecond <= 0 {
		opts.FramesPerSecond = 1
	}
	if opts.SceneThreshold <= 0 {
		opts.SceneThreshold = 0.7
	}
	return &Service{
		store:      store,
		files:      files,
		media:      media,
		transcribe: transcribe,
		scenes:     scenes,
		embedder:   embedder,
		vectors:    vectors,
		opts:       opts,
		logger:     slog.Default(),
	}
}

// Submit stores the uploaded video, enqueues a job for it, and returns the
// job id without waiting for processing. It fails fast when ffmpeg is
// missing so no job is created that could never run.
func (s *Service) Submit(ctx context.Context, upload io.Reader, fileName string) (string, error) {
	if !s.media.Available() {
		return "", ErrMediaUnavailable
	}

	id := uuid.New().String()
	videoPath, err := s.files.Save(upload, id+"_"+fileName)
	if err != nil {
		return "", fmt.Errorf("saving upload: %w", err)
	}

	if _, err := s.store.CreateJob(id, fileName, videoPath); err != nil {
		if delErr := s.files.Delete(videoPath); delErr != nil {
			s.logger.Warn("removing orphaned upload failed", "path", videoPath, "error", delErr)
		}
		return "", fmt.Errorf("creating job: %w", err)
	}

	s.logger.Info("job submitted", "job_id", id, "file", fileName)
	return id, nil
}

// GetStatus returns the current state of a job. Unknown ids map to the
// not_found sentinel instead of an error, so callers can always render a
// status document.
func (s *Service) GetStatus(id string) (domain.Job, error) {
	job, err := s.store.GetJob(id)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.NotFoundJob(id), nil
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	return job, nil
}
