package store

import "context"

// Gateway is the narrow read/update surface the scheduler consumes. Every
// write is a single atomic update in its own transaction; there are no
// multi-job transactions.
type Gateway interface {
	// FetchPendingDownloads returns up to limit jobs whose download should
	// run now: pending rows, failed rows under the retry ceiling, and
	// in-flight rows stale past the staleness window, oldest first.
	FetchPendingDownloads(ctx context.Context, limit int) ([]Job, error)

	// FetchPendingTranscriptions returns jobs downloaded but not yet
	// transcribed, oldest first.
	FetchPendingTranscriptions(ctx context.Context) ([]Job, error)

	MarkDownloadStarted(ctx context.Context, id string) error
	MarkDownloadComplete(ctx context.Context, id, videoPath string, sizeBytes int64) error

	// MarkDownloadFailed records a terminal or retryable failure along
	// with the attempt count reached and the last error message.
	MarkDownloadFailed(ctx context.Context, id string, attempts int, errMsg string) error

	MarkTranscriptionStarted(ctx context.Context, id string) error
	MarkTranscriptionComplete(ctx context.Context, id, text string, metadata []byte) error
	MarkTranscriptionFailed(ctx context.Context, id, errMsg string) error

	// CompletedTranscriptionIDs returns the ids of all jobs whose
	// transcription finished, for the startup video sweep.
	CompletedTranscriptionIDs(ctx context.Context) (map[string]bool, error)
}
