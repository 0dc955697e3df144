// Package store is the only component touching persistent job state. It
// reads pending work and writes phase transitions against a Postgres
// hearings table, one short transaction per write.
package store

// DownloadStatus is the download phase of a job.
type DownloadStatus string

// TranscriptionStatus is the transcription phase of a job.
type TranscriptionStatus string

const (
	DownloadPending    DownloadStatus = "pending"
	DownloadInProgress DownloadStatus = "downloading"
	DownloadCompleted  DownloadStatus = "completed"
	DownloadFailed     DownloadStatus = "failed"

	TranscriptionPending    TranscriptionStatus = "pending"
	TranscriptionProcessing TranscriptionStatus = "processing"
	TranscriptionCompleted  TranscriptionStatus = "completed"
	TranscriptionFailed     TranscriptionStatus = "failed"
)

// MaxDownloadRetries is the retry ceiling for a single download. A job
// failing this many consecutive attempts is recorded failed terminally.
const MaxDownloadRetries = 3

// Job is one hearing recording tracked through both phases. The scheduler
// holds a transient copy per in-flight job; the database row is the source
// of truth.
type Job struct {
	ID      string
	Title   string
	URL     string
	Chamber string

	// VideoPath is set once the download phase completes.
	VideoPath string
}
