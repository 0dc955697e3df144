package store

// Query text exported for predicate tests.
const (
	PendingDownloadsQuery        = pendingDownloadsQuery
	PendingTranscriptionsQuery   = pendingTranscriptionsQuery
	DownloadFailedStmt           = downloadFailedStmt
	TranscriptionCompleteStmt    = transcriptionCompleteStmt
	CompletedTranscriptionsQuery = completedTranscriptionsQuery
)
