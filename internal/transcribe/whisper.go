// Package transcribe produces timestamped transcripts by running a local
// whisper.cpp binary, downloading its ggml model on first use.
package transcribe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/kalambet/vidsift/internal/domain"
)

// Whisper transcribes audio files with the whisper-cli binary. The model file
// is shared by all concurrent jobs and downloaded at most once.
type Whisper struct {
	binary    string
	modelPath string
	modelURL  string
	client    *http.Client

	mu sync.Mutex // guards the one-time model download
}

// NewWhisper returns a Whisper transcriber. An empty binary means
// "whisper-cli" resolved from PATH; an empty client falls back to
// http.DefaultClient for the model download.
func NewWhisper(binary, modelPath, modelURL string, client *http.Client) *Whisper {
	if binary == "" {
		binary = "whisper-cli"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Whisper{binary: binary, modelPath: modelPath, modelURL: modelURL, client: client}
}

// EnsureModelReady downloads the ggml model if it is not present yet.
// Safe for concurrent use: one caller performs the download, the rest wait.
func (w *Whisper) EnsureModelReady(ctx context.Context) error {
	if _, err := os.Stat(w.modelPath); err == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Re-check under the lock: another caller may have finished the download.
	if _, err := os.Stat(w.modelPath); err == nil {
		return nil
	}

	slog.Info("whisper model not found, downloading", "path", w.modelPath, "url", w.modelURL)
	if err := w.downloadModel(ctx); err != nil {
		return fmt.Errorf("downloading whisper model: %w", err)
	}
	slog.Info("whisper model downloaded", "path", w.modelPath)
	return nil
}

func (w *Whisper) downloadModel(ctx context.Context) error {
	if w.modelURL == "" {
		return fmt.Errorf("no model at %s and no download URL configured", w.modelPath)
	}
	if dir := filepath.Dir(w.modelPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating model directory: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.modelURL, nil)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Download to a temp name so a partial file never passes the exists check.
	tmp := w.modelPath + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, w.modelPath)
}

// segmentLine matches whisper-cli transcript output:
// [00:00:00.000 --> 00:00:02.540]   Hello world.
var segmentLine = regexp.MustCompile(`^\[(\d{2}:\d{2}:\d{2}\.\d{3}) --> (\d{2}:\d{2}:\d{2}\.\d{3})\]\s*(.*)$`)

// Transcribe runs whisper-cli over audioPath and returns the transcript
// segments in order. onProgress, if non-nil, receives the running segment
// count as lines stream from the subprocess.
func (w *Whisper) Transcribe(ctx context.Context, audioPath, language string, onProgress func(count int)) ([]domain.TranscriptSegment, error) {
	if err := w.EnsureModelReady(ctx); err != nil {
		return nil, err
	}
	if language == "" {
		language = "auto"
	}

	cmd := exec.CommandContext(ctx, w.binary,
		"-m", w.modelPath,
		"-f", audioPath,
		"-l", language,
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", w.binary, err)
	}

	segments, parseErr := parseSegments(stdout, onProgress)

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("transcribing %s: %w: %s", audioPath, err, strings.TrimSpace(stderr.String()))
	}
	if parseErr != nil {
		return nil, fmt.Errorf("reading transcript output: %w", parseErr)
	}
	return segments, nil
}

// parseSegments consumes whisper-cli stdout line by line, dropping segments
// that are blank after trimming.
func parseSegments(r io.Reader, onProgress func(count int)) ([]domain.TranscriptSegment, error) {
	var segments []domain.TranscriptSegment
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := segmentLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[3])
		if text == "" {
			continue
		}
		start, err := parseTimestamp(m[1])
		if err != nil {
			return segments, err
		}
		end, err := parseTimestamp(m[2])
		if err != nil {
			return segments, err
		}
		segments = append(segments, domain.TranscriptSegment{
			StartTime: start,
			EndTime:   end,
			Text:      text,
			Speaker:   domain.DefaultSpeaker,
		})
		if onProgress != nil {
			onProgress(len(segments))
		}
	}
	return segments, scanner.Err()
}

// parseTimestamp converts "hh:mm:ss.mmm" to seconds.
func parseTimestamp(ts string) (float64, error) {
	parts := strings.Split(ts, ":")
	if len(parts) != 3 || len(parts[0]) != 2 || len(parts[1]) != 2 || len(parts[2]) != 6 {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q: %w", ts, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q: %w", ts, err)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q: %w", ts, err)
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, nil
}
