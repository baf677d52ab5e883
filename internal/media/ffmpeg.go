// Package media shells out to ffmpeg for audio and frame extraction.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// FFmpeg runs the ffmpeg binary for audio and frame extraction.
type FFmpeg struct {
	binary string
}

// NewFFmpeg returns an FFmpeg wrapper. An empty binary path means "ffmpeg"
// resolved from PATH.
func NewFFmpeg(binary string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary}
}

// Available reports whether the ffmpeg binary can be resolved. Job submission
// consults this before creating any job.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.binary)
	return err == nil
}

// ExtractAudio writes the audio track of videoPath to audioPath as 16 kHz
// mono PCM, the format the transcription runtime expects.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	args := []string{
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		audioPath,
	}
	cmd := exec.CommandContext(ctx, f.binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("extracting audio: %w: %s", err, lastLine(out))
	}
	return nil
}

// ExtractFrames samples videoPath at framesPerSecond into outDir and returns
// the frame paths in timestamp order.
func (f *FFmpeg) ExtractFrames(ctx context.Context, videoPath, outDir string, framesPerSecond int) ([]string, error) {
	if framesPerSecond <= 0 {
		framesPerSecond = 1
	}
	pattern := filepath.Join(outDir, "frame_%05d.jpg")
	args := []string{
		"-y",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%d", framesPerSecond),
		"-q:v", "2",
		pattern,
	}
	cmd := exec.CommandContext(ctx, f.binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("extracting frames: %w: %s", err, lastLine(out))
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("reading frames directory: %w", err)
	}
	var frames []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jpg") {
			continue
		}
		frames = append(frames, filepath.Join(outDir, entry.Name()))
	}
	// frame_%05d names sort lexically in timestamp order.
	sort.Strings(frames)
	return frames, nil
}

// lastLine returns the final non-empty line of ffmpeg output, which is where
// ffmpeg puts its actual error.
func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
