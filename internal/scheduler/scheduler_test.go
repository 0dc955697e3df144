package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hearing-transcriber/internal/chunk"
	"hearing-transcriber/internal/config"
	"hearing-transcriber/internal/download"
	"hearing-transcriber/internal/media"
	"hearing-transcriber/internal/scheduler"
	"hearing-transcriber/internal/store"
	"hearing-transcriber/internal/transcript"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type downloadFailure struct {
	attempts int
	msg      string
}

// fakeGateway records every status transition in memory.
type fakeGateway struct {
	mu sync.Mutex

	pendingDownloads      []store.Job
	pendingTranscriptions []store.Job
	completedIDs          map[string]bool

	downloadStarted       []string
	downloadComplete      map[string]int64
	downloadFailed        map[string]downloadFailure
	transcriptionStarted  []string
	transcriptionComplete map[string]string
	metadata              map[string][]byte
	transcriptionFailed   map[string]string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		completedIDs:          map[string]bool{},
		downloadComplete:      map[string]int64{},
		downloadFailed:        map[string]downloadFailure{},
		transcriptionComplete: map[string]string{},
		metadata:              map[string][]byte{},
		transcriptionFailed:   map[string]string{},
	}
}

func (g *fakeGateway) FetchPendingDownloads(_ context.Context, _ int) ([]store.Job, error) {
	return g.pendingDownloads, nil
}

func (g *fakeGateway) FetchPendingTranscriptions(_ context.Context) ([]store.Job, error) {
	return g.pendingTranscriptions, nil
}

func (g *fakeGateway) MarkDownloadStarted(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.downloadStarted = append(g.downloadStarted, id)
	return nil
}

func (g *fakeGateway) MarkDownloadComplete(_ context.Context, id, _ string, size int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.downloadComplete[id] = size
	return nil
}

func (g *fakeGateway) MarkDownloadFailed(_ context.Context, id string, attempts int, msg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.downloadFailed[id] = downloadFailure{attempts: attempts, msg: msg}
	return nil
}

func (g *fakeGateway) MarkTranscriptionStarted(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transcriptionStarted = append(g.transcriptionStarted, id)
	return nil
}

func (g *fakeGateway) MarkTranscriptionComplete(_ context.Context, id, text string, metadata []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transcriptionComplete[id] = text
	g.metadata[id] = metadata
	return nil
}

func (g *fakeGateway) MarkTranscriptionFailed(_ context.Context, id, msg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transcriptionFailed[id] = msg
	return nil
}

func (g *fakeGateway) CompletedTranscriptionIDs(_ context.Context) (map[string]bool, error) {
	return g.completedIDs, nil
}

// fakeFetcher fails transiently `failures` times, then succeeds by writing
// dest. A terminal error short-circuits everything.
type fakeFetcher struct {
	mu       sync.Mutex
	failures int
	terminal error
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, _, dest string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.terminal != nil {
		return 0, f.terminal
	}
	if f.calls <= f.failures {
		return 0, fmt.Errorf("%w: connection reset", download.ErrTransient)
	}
	if err := os.WriteFile(dest, []byte("video"), 0o644); err != nil {
		return 0, err
	}
	return int64(len("video")), nil
}

// fakeMedia simulates the ffmpeg toolset on real files.
type fakeMedia struct {
	duration   time.Duration
	verifyErr  error
	extractErr error
	silenceErr error
	silences   []media.SilenceInterval
}

func (m *fakeMedia) VerifyIntegrity(_ context.Context, _ string) error {
	return m.verifyErr
}

func (m *fakeMedia) ExtractAudio(_ context.Context, _, audioPath string) error {
	if m.extractErr != nil {
		return m.extractErr
	}
	return os.WriteFile(audioPath, []byte("pcm"), 0o644)
}

func (m *fakeMedia) ProbeDuration(_ context.Context, _ string) (time.Duration, error) {
	return m.duration, nil
}

func (m *fakeMedia) DetectSilence(_ context.Context, _ string) ([]media.SilenceInterval, error) {
	return m.silences, m.silenceErr
}

func (m *fakeMedia) CutSegment(_ context.Context, _ string, _, _ time.Duration, outPath string) error {
	return os.WriteFile(outPath, []byte("chunk"), 0o644)
}

// fakePool emits one canned result per chunk.
type fakePool struct{}

func (fakePool) Transcribe(_ context.Context, chunks []chunk.Descriptor) ([]transcript.ChunkResult, error) {
	var out []transcript.ChunkResult
	for _, d := range chunks {
		out = append(out, transcript.ChunkResult{
			Index: d.Index,
			Text:  fmt.Sprintf("chunk %d text", d.Index),
			Segments: []transcript.Segment{
				{Start: d.Start.Seconds(), End: d.Start.Seconds() + 1, Text: fmt.Sprintf("chunk %d text", d.Index)},
			},
		})
	}
	return out, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.DatabaseURL = "postgres://unused"
	cfg.VideosDir = filepath.Join(root, "videos")
	cfg.ChunksDir = filepath.Join(root, "chunks")
	cfg.TranscriptsDir = filepath.Join(root, "transcriptions")
	return cfg
}

func newScheduler(gw store.Gateway, fetch *fakeFetcher, m *fakeMedia, cfg config.Config) *scheduler.Scheduler {
	maker := func(workers int, allowPartial bool) scheduler.TranscriberPool { return fakePool{} }
	return scheduler.New(gw, fetch, m, maker, cfg,
		scheduler.WithLogf(func(string, ...any) {}),
		scheduler.WithBackoffUnit(time.Millisecond),
		scheduler.WithJitter(func() float64 { return 0 }),
		scheduler.WithNumCPU(func() int { return 4 }),
	)
}

// ---------------------------------------------------------------------------
// Run - happy path
// ---------------------------------------------------------------------------

func TestRun_DownloadChainsIntoTranscription(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	gw := newFakeGateway()
	gw.pendingDownloads = []store.Job{{ID: "h1", Title: "Budget Hearing", URL: "https://example.com/h1.mp4", Chamber: "house"}}
	m := &fakeMedia{duration: 90 * time.Second}

	s := newScheduler(gw, &fakeFetcher{}, m, cfg)
	got, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	if gw.downloadComplete["h1"] != int64(len("video")) {
		t.Errorf("download complete size = %d, want %d", gw.downloadComplete["h1"], len("video"))
	}
	text, ok := gw.transcriptionComplete["h1"]
	if !ok {
		t.Fatal("transcription should be marked complete")
	}
	if !strings.Contains(text, "# Budget Hearing") || !strings.Contains(text, "chunk 0 text") {
		t.Errorf("persisted transcript missing header or body:\n%s", text)
	}
	if len(gw.metadata["h1"]) == 0 {
		t.Error("structured metadata should be persisted")
	}

	txt := filepath.Join(cfg.TranscriptsDir, "Budget Hearing.txt")
	if _, err := os.Stat(txt); err != nil {
		t.Errorf("text transcript not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.TranscriptsDir, "Budget Hearing.json")); err != nil {
		t.Errorf("json transcript not written: %v", err)
	}

	if got.Downloads.Successful != 1 || got.Transcriptions.Successful != 1 {
		t.Errorf("stats = %+v, want one success in each phase", got)
	}
	if _, err := os.Stat(cfg.ChunksDir); !os.IsNotExist(err) {
		t.Error("chunks dir should be removed at end of run")
	}
	if _, err := os.Stat(cfg.VideosDir); !os.IsNotExist(err) {
		t.Error("videos dir should be removed at end of run")
	}
}

func TestRun_PendingTranscriptionWithoutDownload(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.VideosDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.VideosDir, "h2.mp4"), []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	gw := newFakeGateway()
	gw.pendingTranscriptions = []store.Job{{ID: "h2", Title: "Oversight", VideoPath: "h2.mp4", Chamber: "senate"}}
	m := &fakeMedia{duration: 45 * time.Second}

	s := newScheduler(gw, &fakeFetcher{terminal: errors.New("should not download")}, m, cfg)
	got, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if _, ok := gw.transcriptionComplete["h2"]; !ok {
		t.Error("transcription should complete without a download phase")
	}
	if got.Downloads.Successful != 0 || got.Downloads.Failed != 0 {
		t.Errorf("download stats = %+v, want untouched", got.Downloads)
	}
}

// ---------------------------------------------------------------------------
// Run - download retry policy
// ---------------------------------------------------------------------------

func TestRun_TransientFailuresRetryUntilSuccess(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	gw := newFakeGateway()
	gw.pendingDownloads = []store.Job{{ID: "h1", Title: "Flaky", URL: "https://example.com/h1.mp4"}}
	fetch := &fakeFetcher{failures: 3}

	s := newScheduler(gw, fetch, &fakeMedia{duration: time.Minute}, cfg)
	got, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	if fetch.calls != 4 {
		t.Errorf("fetch calls = %d, want 4 (3 failures + success)", fetch.calls)
	}
	if _, ok := gw.downloadComplete["h1"]; !ok {
		t.Error("job should be recorded completed after a successful 4th attempt")
	}
	if _, ok := gw.downloadFailed["h1"]; ok {
		t.Error("job must not be recorded failed when a retry succeeds")
	}
	if got.Downloads.Successful != 1 {
		t.Errorf("stats = %+v, want one successful download", got.Downloads)
	}
}

func TestRun_RetryExhaustionRecordsFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	gw := newFakeGateway()
	gw.pendingDownloads = []store.Job{{ID: "h1", Title: "Unreachable", URL: "https://example.com/h1.mp4"}}
	fetch := &fakeFetcher{failures: 100}

	s := newScheduler(gw, fetch, &fakeMedia{}, cfg)
	got, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	if fetch.calls != store.MaxDownloadRetries+1 {
		t.Errorf("fetch calls = %d, want %d", fetch.calls, store.MaxDownloadRetries+1)
	}
	failure, ok := gw.downloadFailed["h1"]
	if !ok {
		t.Fatal("exhausted job should be recorded failed")
	}
	if failure.attempts != store.MaxDownloadRetries {
		t.Errorf("retry_count = %d, want ceiling %d", failure.attempts, store.MaxDownloadRetries)
	}
	if failure.msg == "" {
		t.Error("last error message should be recorded")
	}
	if len(gw.transcriptionStarted) != 0 {
		t.Error("a failed download must not reach transcription")
	}
	if got.Downloads.Failed != 1 {
		t.Errorf("stats = %+v, want one failed download", got.Downloads)
	}
}

func TestRun_TerminalDownloadErrorSkipsRetry(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	gw := newFakeGateway()
	gw.pendingDownloads = []store.Job{{ID: "h1", Title: "Gone", URL: "https://example.com/h1.mp4"}}
	fetch := &fakeFetcher{terminal: errors.New("server returned Not Found")}

	s := newScheduler(gw, fetch, &fakeMedia{}, cfg)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	if fetch.calls != 1 {
		t.Errorf("fetch calls = %d, want 1 (no retry on terminal errors)", fetch.calls)
	}
	if failure, ok := gw.downloadFailed["h1"]; !ok || !strings.Contains(failure.msg, "Not Found") {
		t.Errorf("failure record = %+v, want terminal error message", failure)
	}
}

// ---------------------------------------------------------------------------
// Run - transcription failure boundary
// ---------------------------------------------------------------------------

func TestRun_ExtractionFailureMarksTranscriptionFailed(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	gw := newFakeGateway()
	gw.pendingTranscriptions = []store.Job{{ID: "h3", Title: "Broken", VideoPath: "h3.mp4"}}
	m := &fakeMedia{extractErr: fmt.Errorf("%w: ffmpeg exited 1", media.ErrTool)}

	s := newScheduler(gw, &fakeFetcher{}, m, cfg)
	got, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	msg, ok := gw.transcriptionFailed["h3"]
	if !ok {
		t.Fatal("transcription should be recorded failed")
	}
	if !strings.Contains(msg, "ffmpeg exited 1") {
		t.Errorf("failure message = %q, want the tool error verbatim", msg)
	}
	if got.Transcriptions.Failed != 1 {
		t.Errorf("stats = %+v, want one failed transcription", got.Transcriptions)
	}
}

func TestRun_CorruptVideoFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	gw := newFakeGateway()
	gw.pendingTranscriptions = []store.Job{{ID: "h4", Title: "Corrupt", VideoPath: "h4.mp4"}}
	m := &fakeMedia{verifyErr: fmt.Errorf("%w: moov atom not found", media.ErrIntegrity)}

	s := newScheduler(gw, &fakeFetcher{}, m, cfg)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	if msg := gw.transcriptionFailed["h4"]; !strings.Contains(msg, "integrity") {
		t.Errorf("failure message = %q, want integrity error", msg)
	}
	if len(gw.transcriptionStarted) != 1 {
		t.Errorf("transcription started %d times, want exactly 1", len(gw.transcriptionStarted))
	}
}

func TestRun_SilenceDetectionFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	gw := newFakeGateway()
	gw.pendingTranscriptions = []store.Job{{ID: "h5", Title: "Quiet Tools", VideoPath: "h5.mp4"}}
	m := &fakeMedia{
		duration:   70 * time.Second,
		silenceErr: errors.New("silencedetect unavailable"),
	}

	s := newScheduler(gw, &fakeFetcher{}, m, cfg)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if _, ok := gw.transcriptionComplete["h5"]; !ok {
		t.Error("run should fall back to fixed-interval chunking and complete")
	}
}

// ---------------------------------------------------------------------------
// startup recovery
// ---------------------------------------------------------------------------

func TestRecover_PurgesChunksAndCompletedVideos(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	for _, dir := range []string{cfg.VideosDir, cfg.ChunksDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatal(err)
		}
	}
	stale := filepath.Join(cfg.ChunksDir, "h9_chunk_003.wav")
	doneVideo := filepath.Join(cfg.VideosDir, "h9.mp4")
	liveVideo := filepath.Join(cfg.VideosDir, "h8.mp4")
	for _, path := range []string{stale, doneVideo, liveVideo} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	gw := newFakeGateway()
	gw.completedIDs["h9"] = true

	s := newScheduler(gw, &fakeFetcher{}, &fakeMedia{}, cfg)
	if err := s.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() unexpected error: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("orphaned chunk file should be purged")
	}
	if _, err := os.Stat(doneVideo); !os.IsNotExist(err) {
		t.Error("video of a completed transcription should be removed")
	}
	if _, err := os.Stat(liveVideo); err != nil {
		t.Error("video of an unfinished job must be kept")
	}
}
