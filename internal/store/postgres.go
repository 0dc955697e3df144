package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrStore indicates a status-store call failed. Silent loss of job state
// is worse than a visible abort, so callers propagate it.
var ErrStore = errors.New("status store failure")

// staleWindow is how long a job may sit in `downloading` before it is
// presumed crashed and reclaimed by the pending-downloads query.
const staleWindow = "30 minutes"

const (
	pendingDownloadsQuery = `
		SELECT id, title, url, chamber
		FROM hearings
		WHERE download_status = 'pending'
		   OR (download_status = 'failed' AND retry_count < $1)
		   OR (download_status = 'downloading' AND updated_at < NOW() - INTERVAL '` + staleWindow + `')
		ORDER BY created_at ASC
		LIMIT $2`

	pendingTranscriptionsQuery = `
		SELECT id, title, video_file_path, chamber
		FROM hearings
		WHERE download_status = 'completed'
		  AND transcription_status = 'pending'
		ORDER BY created_at ASC`

	downloadStartedStmt = `
		UPDATE hearings
		SET download_status = 'downloading',
		    download_started_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`

	downloadCompleteStmt = `
		UPDATE hearings
		SET download_status = 'completed',
		    video_file_path = $1,
		    video_size_bytes = $2,
		    download_completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3`

	downloadFailedStmt = `
		UPDATE hearings
		SET download_status = 'failed',
		    retry_count = $1,
		    last_error = $2,
		    updated_at = NOW()
		WHERE id = $3`

	transcriptionStartedStmt = `
		UPDATE hearings
		SET transcription_status = 'processing',
		    transcription_started_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`

	transcriptionCompleteStmt = `
		UPDATE hearings
		SET transcription_status = 'completed',
		    transcription_text = $1,
		    transcription_json = $2,
		    transcription_completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3`

	transcriptionFailedStmt = `
		UPDATE hearings
		SET transcription_status = 'failed',
		    last_error = $1,
		    updated_at = NOW()
		WHERE id = $2`

	completedTranscriptionsQuery = `
		SELECT id FROM hearings
		WHERE transcription_status = 'completed'`
)

// Compile-time interface compliance check.
var _ Gateway = (*Postgres)(nil)

// Postgres implements Gateway against a hearings table over the pgx
// stdlib driver.
type Postgres struct {
	db *sql.DB
}

// PostgresOption configures the connection pool.
type PostgresOption func(*sql.DB)

// WithMaxOpenConns caps the pool size.
func WithMaxOpenConns(n int) PostgresOption {
	return func(db *sql.DB) {
		db.SetMaxOpenConns(n)
	}
}

// WithConnMaxIdleTime sets how long an idle connection is kept.
func WithConnMaxIdleTime(d time.Duration) PostgresOption {
	return func(db *sql.DB) {
		db.SetConnMaxIdleTime(d)
	}
}

// Open connects to Postgres and verifies connectivity before returning.
func Open(ctx context.Context, dsn string, opts ...PostgresOption) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: database URL is required", ErrStore)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrStore, err)
	}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrStore, err)
	}
	return &Postgres{db: db}, nil
}

// Close closes the underlying pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) FetchPendingDownloads(ctx context.Context, limit int) ([]Job, error) {
	rows, err := p.db.QueryContext(ctx, pendingDownloadsQuery, MaxDownloadRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch pending downloads: %v", ErrStore, err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Title, &j.URL, &j.Chamber); err != nil {
			return nil, fmt.Errorf("%w: scan download row: %v", ErrStore, err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch pending downloads: %v", ErrStore, err)
	}
	return jobs, nil
}

func (p *Postgres) FetchPendingTranscriptions(ctx context.Context) ([]Job, error) {
	rows, err := p.db.QueryContext(ctx, pendingTranscriptionsQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch pending transcriptions: %v", ErrStore, err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var path sql.NullString
		if err := rows.Scan(&j.ID, &j.Title, &path, &j.Chamber); err != nil {
			return nil, fmt.Errorf("%w: scan transcription row: %v", ErrStore, err)
		}
		j.VideoPath = path.String
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch pending transcriptions: %v", ErrStore, err)
	}
	return jobs, nil
}

func (p *Postgres) MarkDownloadStarted(ctx context.Context, id string) error {
	return p.exec(ctx, "mark download started", downloadStartedStmt, id)
}

func (p *Postgres) MarkDownloadComplete(ctx context.Context, id, videoPath string, sizeBytes int64) error {
	return p.exec(ctx, "mark download complete", downloadCompleteStmt, videoPath, sizeBytes, id)
}

func (p *Postgres) MarkDownloadFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	return p.exec(ctx, "mark download failed", downloadFailedStmt, attempts, errMsg, id)
}

func (p *Postgres) MarkTranscriptionStarted(ctx context.Context, id string) error {
	return p.exec(ctx, "mark transcription started", transcriptionStartedStmt, id)
}

func (p *Postgres) MarkTranscriptionComplete(ctx context.Context, id, text string, metadata []byte) error {
	return p.exec(ctx, "mark transcription complete", transcriptionCompleteStmt, text, metadata, id)
}

func (p *Postgres) MarkTranscriptionFailed(ctx context.Context, id, errMsg string) error {
	return p.exec(ctx, "mark transcription failed", transcriptionFailedStmt, errMsg, id)
}

func (p *Postgres) CompletedTranscriptionIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := p.db.QueryContext(ctx, completedTranscriptionsQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch completed transcriptions: %v", ErrStore, err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan completed id: %v", ErrStore, err)
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch completed transcriptions: %v", ErrStore, err)
	}
	return ids, nil
}

func (p *Postgres) exec(ctx context.Context, op, stmt string, args ...any) error {
	if _, err := p.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStore, op, err)
	}
	return nil
}
