package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/kalambet/vidsift/internal/domain"
	"github.com/kalambet/vidsift/internal/storage"
)

// Progress checkpoints for the pipeline stages. Scene detection fills the
// band between sceneProgressBase and savingProgress proportionally to the
// frames processed; transcription creeps from audioProgress toward
// transcribeCeiling as segments arrive, since the total is unknown upfront.
const (
	audioProgress      = 10
	transcribeProgress = 30
	transcribeCeiling  = transcribeProgress - 1
	sceneProgressBase  = 60
	sceneProgressSpan  = 20
	savingProgress     = 90
)

// Run starts the worker pool and blocks until ctx is cancelled and every
// worker has drained.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (s *Service) runWorker(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := s.RunOnce(ctx)
		if err != nil {
			s.logger.Error("worker iteration failed", "worker", worker, "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.PollInterval):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// processed, regardless of its outcome.
func (s *Service) RunOnce(ctx context.Context) (bool, error) {
	job, err := s.store.ClaimNextJob()
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	sink := &progressSink{store: s.store, jobID: job.ID, logger: s.logger}

	resultID, err := s.processJob(ctx, job, sink)
	sink.finish()
	if err != nil {
		s.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := s.store.FailJob(job.ID, err.Error()); failErr != nil {
			s.logger.Error("marking job failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := s.store.CompleteJob(job.ID, resultID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	s.logger.Info("job completed", "job_id", job.ID, "result_id", resultID)
	return true, nil
}

// processJob runs the full pipeline for one claimed job and returns the
// saved result id. Scratch files are removed on every exit path; cleanup
// failures are logged, never fatal.
func (s *Service) processJob(ctx context.Context, job *storage.JobRecord, sink *progressSink) (string, error) {
	audioPath := filepath.Join(s.files.Root(), job.ID+".wav")
	defer func() {
		if err := s.files.Delete(audioPath); err != nil {
			s.logger.Warn("removing audio file failed", "path", audioPath, "error", err)
		}
	}()

	sink.update(domain.StatusExtractingAudio, "Extracting audio", audioProgress)
	if err := s.media.ExtractAudio(ctx, job.VideoPath, audioPath); err != nil {
		return "", fmt.Errorf("extracting audio: %w", err)
	}

	sink.update(domain.StatusTranscribing, "Transcribing audio", audioProgress)
	transcript, err := s.transcribe.Transcribe(ctx, audioPath, s.opts.Language, func(count int) {
		p := audioProgress + 2*count
		if p > transcribeCeiling {
			p = transcribeCeiling
		}
		sink.update(domain.StatusTranscribing, "Transcribing audio", p)
	})
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}
	sink.update(domain.StatusTranscribing, "Transcribing audio", transcribeProgress)

	framesDir, err := s.files.CreateTempDir(job.ID + "_frames")
	if err != nil {
		return "", fmt.Errorf("creating frames directory: %w", err)
	}
	defer func() {
		if err := s.files.DeleteDir(framesDir); err != nil {
			s.logger.Warn("removing frames directory failed", "path", framesDir, "error", err)
		}
	}()

	sink.update(domain.StatusDetectingScenes, "Detecting scenes", sceneProgressBase)
	framePaths, err := s.media.ExtractFrames(ctx, job.VideoPath, framesDir, s.opts.FramesPerSecond)
	if err != nil {
		return "", fmt.Errorf("extracting frames: %w", err)
	}

	total := len(framePaths)
	scenes, err := s.scenes.DetectScenes(ctx, framePaths, s.opts.SceneThreshold, func(processed int) {
		if total == 0 {
			return
		}
		sink.update(domain.StatusDetectingScenes, "Detecting scenes", sceneProgressBase+processed*sceneProgressSpan/total)
	})
	if err != nil {
		return "", fmt.Errorf("detecting scenes: %w", err)
	}

	sink.update(domain.StatusSavingResults, "Saving results", savingProgress)
	embeddings, err := s.embedder.EmbedSegments(ctx, transcript)
	if err != nil {
		return "", fmt.Errorf("embedding transcript: %w", err)
	}

	resultID, err := s.store.SaveResult(job.ID, transcript, scenes, embeddings)
	if err != nil {
		return "", fmt.Errorf("saving result: %w", err)
	}

	// The external vector index is a mirror; losing it degrades search to
	// the local path, so indexing failures never fail the job.
	if s.vectors != nil {
		if err := s.vectors.IndexResult(ctx, job.ID, resultID, transcript, embeddings); err != nil {
			s.logger.Warn("vector indexing failed", "job_id", job.ID, "error", err)
		}
	}

	return resultID, nil
}

// progressSink serializes status writes for one job. Progress can only grow
// and nothing is written after finish, so late callbacks from concurrent
// stage workers cannot roll a job backwards or resurrect a terminal one.
type progressSink struct {
	store  JobStore
	jobID  string
	logger *slog.Logger

	mu   sync.Mutex
	last int
	done bool
}

func (p *progressSink) update(status domain.JobStatus, message string, progress int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done || progress < p.last {
		return
	}
	p.last = progress
	if err := p.store.UpdateJobStatus(p.jobID, status, message, progress); err != nil {
		p.logger.Warn("progress update failed", "job_id", p.jobID, "error", err)
	}
}

func (p *progressSink) finish() {
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
}
