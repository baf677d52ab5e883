package domain

import "testing"

func TestSegmentTagRoundtrip(t *testing.T) {
	for _, i := range []int{0, 1, 42, 9999} {
		tag := SegmentTag(i)
		got, ok := ParseSegmentTag(tag)
		if !ok || got != i {
			t.Errorf("ParseSegmentTag(%q) = %d, %v; want %d, true", tag, got, ok, i)
		}
	}
}

func TestParseSegmentTag_Invalid(t *testing.T) {
	for _, tag := range []string{"", "segment_", "segment_x", "seg_1", "1"} {
		if _, ok := ParseSegmentTag(tag); ok {
			t.Errorf("ParseSegmentTag(%q) = ok, want false", tag)
		}
	}
}

func TestJobStatusTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{StatusCreated, false},
		{StatusTranscribing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusNotFound, false},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestNotFoundJob(t *testing.T) {
	job := NotFoundJob("abc")
	if job.ID != "abc" || job.Status != StatusNotFound || job.Progress != 0 {
		t.Errorf("NotFoundJob = %+v", job)
	}
}
