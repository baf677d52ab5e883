// Package storage persists jobs and analysis results in SQLite.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kalambet/vidsift/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for jobs and analysis results.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "vidsift.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database handle for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Jobs ---

// CreateJob inserts a new job in the initial created state. The caller
// supplies the id so the uploaded file can be named after the job before the
// row exists.
func (s *Store) CreateJob(id, originalFileName, videoPath string) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, status, message, progress, original_file_name, video_path, claimed, created_at, updated_at)
		VALUES (?, 'created', '', 0, ?, ?, 0, ?, ?)`,
		id, originalFileName, videoPath, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("inserting job: %w", err)
	}
	return id, nil
}

// ClaimNextJob atomically claims the oldest unclaimed job for pipeline
// execution. Returns (nil, nil) when no job is waiting.
func (s *Store) ClaimNextJob() (*JobRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j JobRecord
	var resultID, errorMessage sql.NullString
	var createdAt, updatedAt string
	err = tx.QueryRow(`
		SELECT id, status, message, progress, original_file_name, video_path, result_id, error_message, created_at, updated_at
		FROM jobs
		WHERE claimed = 0 AND status = 'created'
		ORDER BY created_at ASC
		LIMIT 1`,
	).Scan(&j.ID, &j.Status, &j.Message, &j.Progress, &j.OriginalFileName, &j.VideoPath, &resultID, &errorMessage, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET claimed = 1 WHERE id = ? AND claimed = 0`, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking claimed rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.ResultID = resultID.String
	j.ErrorMessage = errorMessage.String
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

// UpdateJobStatus writes a status/progress checkpoint for a job. Progress can
// only grow (MAX in SQL) and terminal jobs are never modified, so late or
// out-of-order writers cannot move a job backwards.
func (s *Store) UpdateJobStatus(id string, status domain.JobStatus, message string, progress int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, message = ?, progress = MAX(progress, ?), updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		string(status), message, progress, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		// Job is terminal; the write is silently dropped.
	}
	return nil
}

// CompleteJob marks a job as successfully finished, linking its result.
func (s *Store) CompleteJob(id, resultID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'completed', message = 'Completed', progress = 100, result_id = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		resultID, now, id,
	)
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob marks a job as failed with a human-readable message.
func (s *Store) FailJob(id, message string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'failed', message = 'Failed', error_message = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		message, now, id,
	)
	if err != nil {
		return fmt.Errorf("failing job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob returns the current snapshot of a job.
func (s *Store) GetJob(id string) (domain.Job, error) {
	var j domain.Job
	var status string
	var resultID, errorMessage sql.NullString
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, status, message, progress, original_file_name, result_id, error_message, created_at, updated_at
		FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &status, &j.Message, &j.Progress, &j.OriginalFileName, &resultID, &errorMessage, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return domain.Job{}, ErrNotFound
	}
	if err != nil {
		return domain.Job{}, err
	}
	j.Status = domain.JobStatus(status)
	j.ResultID = resultID.String
	j.ErrorMessage = errorMessage.String
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return domain.Job{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return domain.Job{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return j, nil
}

// ListRecentJobs returns up to limit jobs, newest first.
func (s *Store) ListRecentJobs(limit int) ([]domain.Job, error) {
	rows, err := s.db.Query(`
		SELECT id, status, message, progress, original_file_name, result_id, error_message, created_at, updated_at
		FROM jobs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var j domain.Job
		var status string
		var resultID, errorMessage sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&j.ID, &status, &j.Message, &j.Progress, &j.OriginalFileName, &resultID, &errorMessage, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		j.Status = domain.JobStatus(status)
		j.ResultID = resultID.String
		j.ErrorMessage = errorMessage.String
		if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// --- Results ---

// SaveResult persists a job's transcript, scenes, and segment embeddings in
// one transaction and returns the new result id. Embeddings are linked to
// segments through their segment_<i> tag; tags that do not resolve to a
// segment position are skipped.
func (s *Store) SaveResult(jobID string, transcript []domain.TranscriptSegment, scenes []domain.Scene, embeddings []domain.Embedding) (string, error) {
	resultID := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning result transaction: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO results (id, job_id, created_at) VALUES (?, ?, ?)`, resultID, jobID, now); err != nil {
		tx.Rollback()
		return "", fmt.Errorf("inserting result: %w", err)
	}

	segmentRowIDs := make([]int64, len(transcript))
	for i, seg := range transcript {
		speaker := seg.Speaker
		if speaker == "" {
			speaker = domain.DefaultSpeaker
		}
		res, err := tx.Exec(`
			INSERT INTO transcript_segments (result_id, position, start_time, end_time, text, speaker)
			VALUES (?, ?, ?, ?, ?, ?)`,
			resultID, i, seg.StartTime, seg.EndTime, seg.Text, speaker,
		)
		if err != nil {
			tx.Rollback()
			return "", fmt.Errorf("inserting segment %d: %w", i, err)
		}
		if segmentRowIDs[i], err = res.LastInsertId(); err != nil {
			tx.Rollback()
			return "", fmt.Errorf("reading segment %d row id: %w", i, err)
		}
	}

	for i, sc := range scenes {
		if _, err := tx.Exec(`
			INSERT INTO scenes (result_id, position, title, description, start_time, end_time)
			VALUES (?, ?, ?, ?, ?, ?)`,
			resultID, i, sc.Title, sc.Description, sc.StartTime, sc.EndTime,
		); err != nil {
			tx.Rollback()
			return "", fmt.Errorf("inserting scene %d: %w", i, err)
		}
	}

	for _, emb := range embeddings {
		pos, ok := domain.ParseSegmentTag(emb.SegmentID)
		if !ok || pos < 0 || pos >= len(segmentRowIDs) {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO embeddings (segment_id, tag, vector) VALUES (?, ?, ?)`,
			segmentRowIDs[pos], emb.SegmentID, encodeFloat32s(emb.Vector),
		); err != nil {
			tx.Rollback()
			return "", fmt.Errorf("inserting embedding %s: %w", emb.SegmentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing result: %w", err)
	}
	return resultID, nil
}

// GetResult loads a persisted result with its transcript and scenes, ordered
// as they were saved.
func (s *Store) GetResult(resultID string) (domain.AnalysisResult, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM results WHERE id = ?`, resultID).Scan(&exists); err != nil {
		return domain.AnalysisResult{}, err
	}
	if exists == 0 {
		return domain.AnalysisResult{}, ErrNotFound
	}

	result := domain.AnalysisResult{ID: resultID}

	segRows, err := s.db.Query(`
		SELECT start_time, end_time, text, speaker
		FROM transcript_segments WHERE result_id = ? ORDER BY position ASC`, resultID,
	)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("querying segments: %w", err)
	}
	defer segRows.Close()
	for segRows.Next() {
		var seg domain.TranscriptSegment
		if err := segRows.Scan(&seg.StartTime, &seg.EndTime, &seg.Text, &seg.Speaker); err != nil {
			return domain.AnalysisResult{}, fmt.Errorf("scanning segment: %w", err)
		}
		result.Transcript = append(result.Transcript, seg)
	}
	if err := segRows.Err(); err != nil {
		return domain.AnalysisResult{}, err
	}

	sceneRows, err := s.db.Query(`
		SELECT title, description, start_time, end_time
		FROM scenes WHERE result_id = ? ORDER BY position ASC`, resultID,
	)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("querying scenes: %w", err)
	}
	defer sceneRows.Close()
	for sceneRows.Next() {
		var sc domain.Scene
		if err := sceneRows.Scan(&sc.Title, &sc.Description, &sc.StartTime, &sc.EndTime); err != nil {
			return domain.AnalysisResult{}, fmt.Errorf("scanning scene: %w", err)
		}
		result.Scenes = append(result.Scenes, sc)
	}
	return result, sceneRows.Err()
}

// GetEmbeddings returns a result's segment embeddings ordered by segment
// position. The segment_<i> tags identify the transcript positions the
// vectors belong to.
func (s *Store) GetEmbeddings(resultID string) ([]domain.Embedding, error) {
	rows, err := s.db.Query(`
		SELECT e.tag, e.vector
		FROM embeddings e
		JOIN transcript_segments ts ON ts.id = e.segment_id
		WHERE ts.result_id = ?
		ORDER BY ts.position ASC`, resultID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings []domain.Embedding
	for rows.Next() {
		var emb domain.Embedding
		var blob []byte
		if err := rows.Scan(&emb.SegmentID, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}
		if emb.Vector, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding %s: %w", emb.SegmentID, err)
		}
		embeddings = append(embeddings, emb)
	}
	return embeddings, rows.Err()
}
