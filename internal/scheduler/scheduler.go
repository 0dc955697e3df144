// Package scheduler drives the download/transcription pipeline: two
// bounded worker pools chained by queues, with retry/backoff for downloads
// and startup recovery of orphaned work.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"hearing-transcriber/internal/chunk"
	"hearing-transcriber/internal/config"
	"hearing-transcriber/internal/download"
	"hearing-transcriber/internal/media"
	"hearing-transcriber/internal/stats"
	"hearing-transcriber/internal/store"
	"hearing-transcriber/internal/transcript"
)

// fetcher downloads one video into a destination file.
type fetcher interface {
	Fetch(ctx context.Context, url, dest string) (int64, error)
}

// mediaToolset is the slice of the media extractor the scheduler needs.
type mediaToolset interface {
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
	DetectSilence(ctx context.Context, audioPath string) ([]media.SilenceInterval, error)
	CutSegment(ctx context.Context, audioPath string, start, duration time.Duration, outPath string) error
	VerifyIntegrity(ctx context.Context, path string) error
}

// TranscriberPool runs chunk files through transcription workers.
type TranscriberPool interface {
	Transcribe(ctx context.Context, chunks []chunk.Descriptor) ([]transcript.ChunkResult, error)
}

// PoolMaker builds a transcription pool sized for one job. A fresh pool
// per job keeps worker count proportional to that job's chunk count.
type PoolMaker func(workers int, allowPartial bool) TranscriberPool

// Scheduler coordinates one processing run.
type Scheduler struct {
	gw      store.Gateway
	fetch   fetcher
	media   mediaToolset
	newPool PoolMaker
	cfg     config.Config
	acc     stats.Accumulator

	logf        func(format string, args ...any)
	backoffUnit time.Duration
	reportEvery time.Duration
	jitter      func() float64
	numCPU      func() int

	activeDownloads      atomic.Int32
	activeTranscriptions atomic.Int32
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogf sets the log function.
func WithLogf(fn func(format string, args ...any)) SchedulerOption {
	return func(s *Scheduler) { s.logf = fn }
}

// WithBackoffUnit scales the retry backoff delay (for testing).
func WithBackoffUnit(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.backoffUnit = d }
}

// WithReportInterval sets how often the queue status line is logged.
func WithReportInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.reportEvery = d }
}

// WithJitter sets the jitter source (for testing).
func WithJitter(fn func() float64) SchedulerOption {
	return func(s *Scheduler) { s.jitter = fn }
}

// WithNumCPU overrides the detected core count (for testing).
func WithNumCPU(fn func() int) SchedulerOption {
	return func(s *Scheduler) { s.numCPU = fn }
}

// New creates a Scheduler.
func New(gw store.Gateway, fetch fetcher, toolset mediaToolset, newPool PoolMaker, cfg config.Config, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		gw:          gw,
		fetch:       fetch,
		media:       toolset,
		newPool:     newPool,
		cfg:         cfg,
		logf:        log.Printf,
		backoffUnit: time.Second,
		reportEvery: 30 * time.Second,
		jitter:      rand.Float64,
		numCPU:      runtime.NumCPU,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes every pending job once: recover orphans, fetch pending
// work, chain downloads into transcriptions, and return the run's
// performance counters. Download ordering within one job is enforced by
// the queue hand-off; across jobs everything interleaves freely up to the
// pool bounds.
func (s *Scheduler) Run(ctx context.Context) (stats.Stats, error) {
	for _, dir := range []string{s.cfg.VideosDir, s.cfg.ChunksDir, s.cfg.TranscriptsDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return stats.Stats{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if err := s.recover(ctx); err != nil {
		return stats.Stats{}, err
	}

	downloads, err := s.gw.FetchPendingDownloads(ctx, s.cfg.MaxDownloads*2)
	if err != nil {
		return stats.Stats{}, err
	}
	transcriptions, err := s.gw.FetchPendingTranscriptions(ctx)
	if err != nil {
		return stats.Stats{}, err
	}
	s.logf("Found %d videos to download, %d to transcribe", len(downloads), len(transcriptions))

	downloadQ := make(chan store.Job, len(downloads))
	for _, j := range downloads {
		downloadQ <- j
	}
	close(downloadQ)

	// Sized for the worst case: every pending download also transcribes.
	transcribeQ := make(chan store.Job, len(downloads)+len(transcriptions))
	for _, j := range transcriptions {
		transcribeQ <- j
	}

	reporterDone := make(chan struct{})
	go s.report(ctx, downloadQ, transcribeQ, reporterDone)

	var dwg sync.WaitGroup
	for i := 0; i < s.cfg.MaxDownloads; i++ {
		dwg.Add(1)
		go func() {
			defer dwg.Done()
			for job := range downloadQ {
				s.activeDownloads.Add(1)
				ok := s.downloadJob(ctx, job)
				s.activeDownloads.Add(-1)
				if ok {
					job.VideoPath = job.ID + ".mp4"
					transcribeQ <- job
				}
			}
		}()
	}

	// Close-chain: the transcription queue drains only after every
	// download worker has finished feeding it.
	go func() {
		dwg.Wait()
		close(transcribeQ)
	}()

	var twg sync.WaitGroup
	for i := 0; i < s.cfg.MaxTranscriptions; i++ {
		twg.Add(1)
		go func() {
			defer twg.Done()
			for job := range transcribeQ {
				s.activeTranscriptions.Add(1)
				s.transcribeJob(ctx, job)
				s.activeTranscriptions.Add(-1)
			}
		}()
	}
	twg.Wait()
	close(reporterDone)

	s.cleanupRun()

	final := s.acc.Snapshot()
	s.logf("%s", final.Summary())
	return final, ctx.Err()
}

// recover reclaims orphaned artifacts before new work starts: chunk files
// never survive a restart, and videos of already-transcribed jobs are
// dead weight. Stale `downloading` rows are reclaimed by the pending
// query itself.
func (s *Scheduler) recover(ctx context.Context) error {
	chunks, _ := filepath.Glob(filepath.Join(s.cfg.ChunksDir, "*_chunk_*"))
	for _, path := range chunks {
		if err := os.Remove(path); err == nil {
			s.logf("Removed orphaned chunk %s", filepath.Base(path))
		}
	}

	completed, err := s.gw.CompletedTranscriptionIDs(ctx)
	if err != nil {
		return err
	}
	videos, _ := filepath.Glob(filepath.Join(s.cfg.VideosDir, "*.mp4"))
	for _, path := range videos {
		id := filepath.Base(path)
		id = id[:len(id)-len(filepath.Ext(id))]
		if completed[id] {
			if err := os.Remove(path); err == nil {
				s.logf("Removed video for completed transcription %s", id)
			}
		}
	}
	return nil
}

// report logs queue depth and active counts periodically until done.
func (s *Scheduler) report(ctx context.Context, downloadQ, transcribeQ chan store.Job, done <-chan struct{}) {
	ticker := time.NewTicker(s.reportEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logf("Queue Status - Downloads: %d queued, %d active | Transcriptions: %d queued, %d active",
				len(downloadQ), s.activeDownloads.Load(),
				len(transcribeQ), s.activeTranscriptions.Load())
		}
	}
}

// downloadJob runs the retry loop for one download and reports whether the
// job should advance to transcription. Only transient failures are
// retried; backoff is 2^attempt units plus jitter.
func (s *Scheduler) downloadJob(ctx context.Context, job store.Job) bool {
	dest := filepath.Join(s.cfg.VideosDir, job.ID+".mp4")

	for attempt := 0; ; attempt++ {
		if err := s.gw.MarkDownloadStarted(ctx, job.ID); err != nil {
			s.logf("%v", err)
			s.acc.RecordDownloadFailure()
			return false
		}
		s.logf("Starting download: %s (attempt %d/%d)", job.Title, attempt+1, store.MaxDownloadRetries+1)

		start := time.Now()
		size, err := s.fetch.Fetch(ctx, job.URL, dest)
		if err == nil {
			if err := s.gw.MarkDownloadComplete(ctx, job.ID, filepath.Base(dest), size); err != nil {
				s.logf("%v", err)
				s.acc.RecordDownloadFailure()
				return false
			}
			s.acc.RecordDownload(size, time.Since(start))
			s.logf("Download complete: %s (%.1f MB)", job.Title, float64(size)/1024/1024)
			return true
		}

		if !errors.Is(err, download.ErrTransient) || attempt >= store.MaxDownloadRetries {
			// Terminal failures are recorded at the retry ceiling so the
			// pending query does not reselect a row that cannot succeed.
			s.logf("Download failed terminally: %s: %v", job.Title, err)
			if merr := s.gw.MarkDownloadFailed(ctx, job.ID, store.MaxDownloadRetries, err.Error()); merr != nil {
				s.logf("%v", merr)
			}
			s.acc.RecordDownloadFailure()
			return false
		}

		delay := time.Duration((float64(int64(1)<<attempt) + s.jitter()) * float64(s.backoffUnit))
		s.logf("Download failed: %s: %v (retrying in %v)", job.Title, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
	}
}

// transcribeJob runs the transcription phase for one downloaded job. Any
// failure is caught at this boundary, recorded to the store, and never
// terminates the scheduler.
func (s *Scheduler) transcribeJob(ctx context.Context, job store.Job) {
	start := time.Now()
	audioSeconds, err := s.runTranscription(ctx, job)
	if err != nil {
		s.logf("Transcription failed: %s: %v", job.Title, err)
		if merr := s.gw.MarkTranscriptionFailed(ctx, job.ID, err.Error()); merr != nil {
			s.logf("%v", merr)
		}
		s.acc.RecordTranscriptionFailure()
		return
	}
	s.acc.RecordTranscription(audioSeconds, time.Since(start))
	s.logf("Transcription complete: %s (%.1f seconds of audio)", job.Title, audioSeconds)
}

func (s *Scheduler) runTranscription(ctx context.Context, job store.Job) (float64, error) {
	if err := s.gw.MarkTranscriptionStarted(ctx, job.ID); err != nil {
		return 0, err
	}

	videoPath := filepath.Join(s.cfg.VideosDir, job.VideoPath)
	if job.VideoPath == "" {
		videoPath = filepath.Join(s.cfg.VideosDir, job.ID+".mp4")
	}

	if err := s.media.VerifyIntegrity(ctx, videoPath); err != nil {
		// Corruption is not transient. Remove the artifact so the job is
		// not reprocessed against the same bad file.
		if !s.cfg.KeepVideos {
			_ = os.Remove(videoPath)
		}
		return 0, err
	}

	audioPath := filepath.Join(s.cfg.ChunksDir, job.ID+"_full.wav")
	defer s.cleanupJob(job.ID, audioPath)

	if err := s.media.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		return 0, err
	}
	total, err := s.media.ProbeDuration(ctx, audioPath)
	if err != nil {
		return 0, err
	}

	silences, err := s.media.DetectSilence(ctx, audioPath)
	if err != nil {
		// Fixed-interval chunking still works without silence data.
		s.logf("Warning: silence detection failed for %s: %v", job.Title, err)
		silences = nil
	}

	spans := chunk.Plan(total, time.Duration(s.cfg.ChunkSeconds)*time.Second, silences)
	chunks, err := chunk.Cut(ctx, s.media, audioPath, s.cfg.ChunksDir, job.ID, spans)
	if err != nil {
		return 0, err
	}

	workers := min(s.numCPU()/2, len(chunks))
	if workers < 1 {
		workers = 1
	}
	pool := s.newPool(workers, s.cfg.AllowPartial)
	results, err := pool.Transcribe(ctx, chunks)
	if err != nil {
		return 0, err
	}

	text, segments := transcript.Merge(results)
	header := transcript.Header{
		Title:         job.Title,
		Chamber:       job.Chamber,
		HearingID:     job.ID,
		TranscribedAt: time.Now(),
		Duration:      total.Seconds(),
		ChunkCount:    len(chunks),
		Model:         s.cfg.Model,
	}

	base := filepath.Join(s.cfg.TranscriptsDir, transcript.SafeTitle(job.Title))
	if err := transcript.WriteText(base+".txt", header, text); err != nil {
		return 0, err
	}
	doc := transcript.NewDocument(header, segments)
	if err := transcript.WriteJSON(base+".json", doc); err != nil {
		return 0, err
	}

	metadata, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode transcript metadata: %w", err)
	}
	if err := s.gw.MarkTranscriptionComplete(ctx, job.ID, transcript.RenderText(header, text), metadata); err != nil {
		return 0, err
	}

	if !s.cfg.KeepVideos {
		_ = os.Remove(videoPath)
	}
	return total.Seconds(), nil
}

// cleanupJob best-effort removes one job's audio temporaries. It must not
// fail past the phase boundary, so errors are ignored.
func (s *Scheduler) cleanupJob(jobID, audioPath string) {
	_ = os.Remove(audioPath)
	leftovers, _ := filepath.Glob(filepath.Join(s.cfg.ChunksDir, jobID+"_chunk_*"))
	for _, path := range leftovers {
		_ = os.Remove(path)
	}
}

// cleanupRun removes the temporary working directories at the end of a
// run. Videos are kept when configured to.
func (s *Scheduler) cleanupRun() {
	_ = os.RemoveAll(s.cfg.ChunksDir)
	if !s.cfg.KeepVideos {
		_ = os.RemoveAll(s.cfg.VideosDir)
	}
}
