// Package domain holds the core types shared across the analysis pipeline.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobStatus identifies a job's position in the pipeline state machine.
type JobStatus string

const (
	StatusCreated         JobStatus = "created"
	StatusExtractingAudio JobStatus = "extracting_audio"
	StatusTranscribing    JobStatus = "transcribing"
	StatusDetectingScenes JobStatus = "detecting_scenes"
	StatusSavingResults   JobStatus = "saving_results"
	StatusCompleted       JobStatus = "completed"
	StatusFailed          JobStatus = "failed"

	// StatusNotFound is the benign sentinel returned for unknown job ids,
	// so callers can keep polling without special error handling.
	StatusNotFound JobStatus = "not_found"
)

// Terminal reports whether a job in this status will never change again.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one end-to-end analysis request and its tracked lifecycle.
type Job struct {
	ID               string    `json:"id"`
	Status           JobStatus `json:"status"`
	Message          string    `json:"message,omitempty"`
	Progress         int       `json:"progress"`
	OriginalFileName string    `json:"original_file_name,omitempty"`
	ResultID         string    `json:"result_id,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitzero"`
	UpdatedAt        time.Time `json:"updated_at,omitzero"`
}

// NotFoundJob returns the sentinel snapshot for an unknown job id.
func NotFoundJob(id string) Job {
	return Job{ID: id, Status: StatusNotFound, Progress: 0}
}

// DefaultSpeaker labels transcript segments when no diarization is available.
const DefaultSpeaker = "Narrator"

// TranscriptSegment is a contiguous span of transcript text with timestamps
// in seconds. EndTime >= StartTime.
type TranscriptSegment struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text"`
	Speaker   string  `json:"speaker"`
}

// Scene is a detected visual interval with descriptive metadata.
type Scene struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
}

// Embedding is a fixed-length vector representing one transcript segment.
// SegmentID is "segment_<i>" where i is the segment's position in the
// transcript it was generated from; it is a back-reference, not ownership.
type Embedding struct {
	SegmentID string    `json:"segment_id"`
	Vector    []float32 `json:"vector"`
}

// SegmentTag formats the back-reference tag for the segment at position i.
func SegmentTag(i int) string {
	return fmt.Sprintf("segment_%d", i)
}

// ParseSegmentTag extracts the segment position from a segment_<i> tag.
func ParseSegmentTag(tag string) (int, bool) {
	rest, ok := strings.CutPrefix(tag, "segment_")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return i, true
}

// AnalysisResult aggregates one job's transcript and scenes.
type AnalysisResult struct {
	ID         string              `json:"id"`
	Transcript []TranscriptSegment `json:"transcript"`
	Scenes     []Scene             `json:"scenes"`
}
