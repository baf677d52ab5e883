package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/vidsift/internal/domain"
	"github.com/kalambet/vidsift/internal/storage"
)

type mockFiles struct {
	root string

	mu          sync.Mutex
	saved       []string
	deleted     []string
	deletedDirs []string
}

func (m *mockFiles) Root() string { return m.root }

func (m *mockFiles) Save(r io.Reader, name string) (string, error) {
	io.Copy(io.Discard, r)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, name)
	return filepath.Join(m.root, name), nil
}

func (m *mockFiles) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, path)
	return nil
}

func (m *mockFiles) CreateTempDir(name string) (string, error) {
	return filepath.Join(m.root, name), nil
}

func (m *mockFiles) DeleteDir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedDirs = append(m.deletedDirs, path)
	return nil
}

type mockMedia struct {
	available      bool
	extractAudioFn func(ctx context.Context, videoPath, audioPath string) error
	frames         []string
}

func (m *mockMedia) Available() bool { return m.available }

func (m *mockMedia) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	if m.extractAudioFn != nil {
		return m.extractAudioFn(ctx, videoPath, audioPath)
	}
	return nil
}

func (m *mockMedia) ExtractFrames(ctx context.Context, videoPath, outDir string, fps int) ([]string, error) {
	return m.frames, nil
}

type mockTranscriber struct {
	transcribeFn func(ctx context.Context, audioPath, language string, onProgress func(int)) ([]domain.TranscriptSegment, error)
}

func (m *mockTranscriber) Transcribe(ctx context.Context, audioPath, language string, onProgress func(int)) ([]domain.TranscriptSegment, error) {
	return m.transcribeFn(ctx, audioPath, language, onProgress)
}

type mockScenes struct {
	detectFn func(ctx context.Context, framePaths []string, threshold float64, onProgress func(int)) ([]domain.Scene, error)
}

func (m *mockScenes) DetectScenes(ctx context.Context, framePaths []string, threshold float64, onProgress func(int)) ([]domain.Scene, error) {
	return m.detectFn(ctx, framePaths, threshold, onProgress)
}

type mockEmbedder struct {
	embedFn func(ctx context.Context, segments []domain.TranscriptSegment) ([]domain.Embedding, error)
}

func (m *mockEmbedder) EmbedSegments(ctx context.Context, segments []domain.TranscriptSegment) ([]domain.Embedding, error) {
	return m.embedFn(ctx, segments)
}

type mockVectors struct {
	indexFn func(ctx context.Context, jobID, resultID string, transcript []domain.TranscriptSegment, embeddings []domain.Embedding) error
}

func (m *mockVectors) IndexResult(ctx context.Context, jobID, resultID string, transcript []domain.TranscriptSegment, embeddings []domain.Embedding) error {
	return m.indexFn(ctx, jobID, resultID, transcript, embeddings)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// happyCollaborators returns a set of mocks that drive a job to completion.
func happyCollaborators(t *testing.T) (*mockFiles, *mockMedia, *mockTranscriber, *mockScenes, *mockEmbedder) {
	t.Helper()
	files := &mockFiles{root: t.TempDir()}
	media := &mockMedia{available: true, frames: []string{"f1.jpg", "f2.jpg", "f3.jpg"}}
	transcriber := &mockTranscriber{
		transcribeFn: func(_ context.Context, _, _ string, onProgress func(int)) ([]domain.TranscriptSegment, error) {
			segments := []domain.TranscriptSegment{
				{StartTime: 0, EndTime: 2, Text: "first", Speaker: domain.DefaultSpeaker},
				{StartTime: 2, EndTime: 4, Text: "second", Speaker: domain.DefaultSpeaker},
			}
			for i := range segments {
				if onProgress != nil {
					onProgress(i + 1)
				}
			}
			return segments, nil
		},
	}
	scenes := &mockScenes{
		detectFn: func(_ context.Context, framePaths []string, _ float64, onProgress func(int)) ([]domain.Scene, error) {
			for i := range framePaths {
				if onProgress != nil {
					onProgress(i + 1)
				}
			}
			return []domain.Scene{{Title: "Scene 1", StartTime: 0, EndTime: 3}}, nil
		},
	}
	embedder := &mockEmbedder{
		embedFn: func(_ context.Context, segments []domain.TranscriptSegment) ([]domain.Embedding, error) {
			embs := make([]domain.Embedding, len(segments))
			for i := range segments {
				embs[i] = domain.Embedding{SegmentID: domain.SegmentTag(i), Vector: []float32{float32(i), 1}}
			}
			return embs, nil
		},
	}
	return files, media, transcriber, scenes, embedder
}

func TestSubmit_MediaUnavailable(t *testing.T) {
	store := openTestStore(t)
	files, media, transcriber, scenes, embedder := happyCollaborators(t)
	media.available = false

	svc := NewService(store, files, media, transcriber, scenes, embedder, nil, Options{})

	_, err := svc.Submit(context.Background(), strings.NewReader("data"), "talk.mp4")
	if !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("Submit error = %v, want ErrMediaUnavailable", err)
	}

	// Nothing saved and no job created.
	if len(files.saved) != 0 {
		t.Errorf("saved files = %v, want none", files.saved)
	}
	jobs, err := store.ListRecentJobs(10)
	if err != nil {
		t.Fatalf("ListRecentJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("got %d jobs, want 0", len(jobs))
	}
}

func TestSubmit_CreatesJob(t *testing.T) {
	store := openTestStore(t)
	files, media, transcriber, scenes, embedder := happyCollaborators(t)
	svc := NewService(store, files, media, transcriber, scenes, embedder, nil, Options{})

	id, err := svc.Submit(context.Background(), strings.NewReader("data"), "talk.mp4")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	job, err := svc.GetStatus(id)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if job.Status != domain.StatusCreated || job.OriginalFileName != "talk.mp4" {
		t.Errorf("job = %+v", job)
	}
	if len(files.saved) != 1 || files.saved[0] != id+"_talk.mp4" {
		t.Errorf("saved = %v, want [%s_talk.mp4]", files.saved, id)
	}
}

func TestRunOnce_NoJob(t *testing.T) {
	store := openTestStore(t)
	files, media, transcriber, scenes, embedder := happyCollaborators(t)
	svc := NewService(store, files, media, transcriber, scenes, embedder, nil, Options{})

	done, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("RunOnce returned true with an empty queue")
	}
}

func TestRunOnce_Success(t *testing.T) {
	store := openTestStore(t)
	files, media, transcriber, scenes, embedder := happyCollaborators(t)
	svc := NewService(store, files, media, transcriber, scenes, embedder, nil, Options{})

	id, err := svc.Submit(context.Background(), strings.NewReader("data"), "talk.mp4")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce returned false, want a processed job")
	}

	job, err := svc.GetStatus(id)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if job.Status != domain.StatusCompleted || job.Progress != 100 {
		t.Fatalf("job = %+v, want completed at 100", job)
	}
	if job.ResultID == "" {
		t.Fatal("completed job has no result id")
	}

	result, err := store.GetResult(job.ResultID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if len(result.Transcript) != 2 || len(result.Scenes) != 1 {
		t.Errorf("result has %d segments, %d scenes", len(result.Transcript), len(result.Scenes))
	}
	embs, err := store.GetEmbeddings(job.ResultID)
	if err != nil {
		t.Fatalf("GetEmbeddings: %v", err)
	}
	if len(embs) != 2 {
		t.Errorf("got %d embeddings, want 2", len(embs))
	}

	// Scratch files removed.
	wantAudio := filepath.Join(files.root, id+".wav")
	if len(files.deleted) != 1 || files.deleted[0] != wantAudio {
		t.Errorf("deleted = %v, want [%s]", files.deleted, wantAudio)
	}
	wantFrames := filepath.Join(files.root, id+"_frames")
	if len(files.deletedDirs) != 1 || files.deletedDirs[0] != wantFrames {
		t.Errorf("deleted dirs = %v, want [%s]", files.deletedDirs, wantFrames)
	}
}

func TestRunOnce_FailureMarksJobFailed(t *testing.T) {
	store := openTestStore(t)
	files, media, transcriber, scenes, embedder := happyCollaborators(t)
	transcriber.transcribeFn = func(_ context.Context, _, _ string, _ func(int)) ([]domain.TranscriptSegment, error) {
		return nil, errors.New("whisper exploded")
	}
	svc := NewService(store, files, media, transcriber, scenes, embedder, nil, Options{})

	id, err := svc.Submit(context.Background(), strings.NewReader("data"), "talk.mp4")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce returned false")
	}

	job, _ := svc.GetStatus(id)
	if job.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "whisper exploded") {
		t.Errorf("error message = %q", job.ErrorMessage)
	}

	// The audio file is still cleaned up on the failure path.
	if len(files.deleted) != 1 {
		t.Errorf("deleted = %v, want the audio file", files.deleted)
	}
}

func TestRunOnce_VectorIndexFailureIsNotFatal(t *testing.T) {
	store := openTestStore(t)
	files, media, transcriber, scenes, embedder := happyCollaborators(t)
	vectors := &mockVectors{
		indexFn: func(_ context.Context, _, _ string, _ []domain.TranscriptSegment, _ []domain.Embedding) error {
			return errors.New("postgres is down")
		},
	}
	svc := NewService(store, files, media, transcriber, scenes, embedder, vectors, Options{})

	id, err := svc.Submit(context.Background(), strings.NewReader("data"), "talk.mp4")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	job, _ := svc.GetStatus(id)
	if job.Status != domain.StatusCompleted {
		t.Errorf("status = %q, want completed despite index failure", job.Status)
	}
}

func TestGetStatus_UnknownJobIsSentinel(t *testing.T) {
	store := openTestStore(t)
	files, media, transcriber, scenes, embedder := happyCollaborators(t)
	svc := NewService(store, files, media, transcriber, scenes, embedder, nil, Options{})

	job, err := svc.GetStatus("ghost")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if job.Status != domain.StatusNotFound || job.ID != "ghost" {
		t.Errorf("job = %+v, want not_found sentinel", job)
	}
}

// recordingStore captures every status checkpoint while delegating to the
// real store.
type recordingStore struct {
	*storage.Store

	mu      sync.Mutex
	updates []int
}

func (r *recordingStore) UpdateJobStatus(id string, status domain.JobStatus, message string, progress int) error {
	r.mu.Lock()
	r.updates = append(r.updates, progress)
	r.mu.Unlock()
	return r.Store.UpdateJobStatus(id, status, message, progress)
}

func TestProgressCheckpoints(t *testing.T) {
	rec := &recordingStore{Store: openTestStore(t)}
	files, media, transcriber, scenes, embedder := happyCollaborators(t)
	svc := NewService(rec, files, media, transcriber, scenes, embedder, nil, Options{})

	if _, err := svc.Submit(context.Background(), strings.NewReader("data"), "talk.mp4"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	rec.mu.Lock()
	updates := append([]int(nil), rec.updates...)
	rec.mu.Unlock()

	if len(updates) == 0 {
		t.Fatal("no progress checkpoints recorded")
	}
	for i := 1; i < len(updates); i++ {
		if updates[i] < updates[i-1] {
			t.Fatalf("progress went backwards: %v", updates)
		}
	}
	// Stage anchors: audio at 10, transcription completion at 30, scene
	// detection band ending at 80, saving at 90.
	for _, want := range []int{10, 30, 80, 90} {
		found := false
		for _, p := range updates {
			if p == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("checkpoint %d missing from %v", want, updates)
		}
	}
}

func TestProgressSink(t *testing.T) {
	rec := &recordingStore{Store: openTestStore(t)}
	if _, err := rec.Store.CreateJob("job-s", "talk.mp4", "/v"); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	sink := &progressSink{store: rec, jobID: "job-s", logger: discardLogger()}

	sink.update(domain.StatusTranscribing, "Transcribing audio", 20)
	sink.update(domain.StatusTranscribing, "Transcribing audio", 15) // late, lower
	sink.update(domain.StatusDetectingScenes, "Detecting scenes", 60)
	sink.finish()
	sink.update(domain.StatusSavingResults, "Saving results", 90) // after finish

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []int{20, 60}
	if len(rec.updates) != len(want) {
		t.Fatalf("updates = %v, want %v", rec.updates, want)
	}
	for i := range want {
		if rec.updates[i] != want[i] {
			t.Errorf("updates[%d] = %d, want %d", i, rec.updates[i], want[i])
		}
	}
}

func TestTranscriptionSubProgressIsCapped(t *testing.T) {
	rec := &recordingStore{Store: openTestStore(t)}
	files, media, transcriber, scenes, embedder := happyCollaborators(t)
	// A long transcript must not push the transcription stage past its band.
	transcriber.transcribeFn = func(_ context.Context, _, _ string, onProgress func(int)) ([]domain.TranscriptSegment, error) {
		var segments []domain.TranscriptSegment
		for i := 0; i < 50; i++ {
			segments = append(segments, domain.TranscriptSegment{Text: fmt.Sprintf("segment %d", i), Speaker: domain.DefaultSpeaker})
			if onProgress != nil {
				onProgress(i + 1)
			}
		}
		return segments, nil
	}
	svc := NewService(rec, files, media, transcriber, scenes, embedder, nil, Options{})

	if _, err := svc.Submit(context.Background(), strings.NewReader("data"), "talk.mp4"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	sawScenes := false
	for _, p := range rec.updates {
		if p >= 60 {
			sawScenes = true
		}
		if !sawScenes && p > 30 {
			t.Fatalf("transcription stage reported %d, above its band: %v", p, rec.updates)
		}
	}
}
