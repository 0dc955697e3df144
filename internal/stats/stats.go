// Package stats accumulates per-run performance counters for downloads and
// transcriptions and renders the end-of-run summary.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DownloadStats aggregates the download phase.
type DownloadStats struct {
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	TotalBytes int64   `json:"total_bytes"`
	TotalTime  float64 `json:"total_time_seconds"`
}

// TranscriptionStats aggregates the transcription phase. AudioSeconds is
// wall-clock audio transcribed; TotalTime is processing time spent, so
// AudioSeconds/TotalTime is the realtime speedup multiple.
type TranscriptionStats struct {
	Successful   int     `json:"successful"`
	Failed       int     `json:"failed"`
	AudioSeconds float64 `json:"total_audio_seconds"`
	TotalTime    float64 `json:"total_time_seconds"`
}

// Stats is an immutable snapshot of a run's counters.
type Stats struct {
	Downloads      DownloadStats      `json:"downloads"`
	Transcriptions TranscriptionStats `json:"transcriptions"`
}

// Accumulator collects counters from concurrent workers. The zero value is
// ready to use.
type Accumulator struct {
	mu sync.Mutex
	s  Stats
}

// RecordDownload adds one successful download.
func (a *Accumulator) RecordDownload(bytes int64, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s.Downloads.Successful++
	a.s.Downloads.TotalBytes += bytes
	a.s.Downloads.TotalTime += elapsed.Seconds()
}

// RecordDownloadFailure adds one terminally failed download.
func (a *Accumulator) RecordDownloadFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s.Downloads.Failed++
}

// RecordTranscription adds one successful transcription of audioSeconds of
// audio that took elapsed to process.
func (a *Accumulator) RecordTranscription(audioSeconds float64, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s.Transcriptions.Successful++
	a.s.Transcriptions.AudioSeconds += audioSeconds
	a.s.Transcriptions.TotalTime += elapsed.Seconds()
}

// RecordTranscriptionFailure adds one failed transcription.
func (a *Accumulator) RecordTranscriptionFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s.Transcriptions.Failed++
}

// Snapshot returns a copy of the current counters.
func (a *Accumulator) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.s
}

// Summary renders the human-readable performance report. Sections with no
// successful work are omitted.
func (s Stats) Summary() string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(&b, "%s\nPERFORMANCE SUMMARY\n%s\n", rule, rule)

	if d := s.Downloads; d.Successful > 0 {
		speed := 0.0
		if d.TotalTime > 0 {
			speed = float64(d.TotalBytes) / d.TotalTime / 1024 / 1024
		}
		fmt.Fprintf(&b, "Downloads:\n")
		fmt.Fprintf(&b, "  - Successful: %d\n", d.Successful)
		fmt.Fprintf(&b, "  - Failed: %d\n", d.Failed)
		fmt.Fprintf(&b, "  - Total data: %.1f MB\n", float64(d.TotalBytes)/1024/1024)
		fmt.Fprintf(&b, "  - Average speed: %.1f MB/s\n", speed)
	}

	if t := s.Transcriptions; t.Successful > 0 {
		speedup := 0.0
		if t.TotalTime > 0 {
			speedup = t.AudioSeconds / t.TotalTime
		}
		fmt.Fprintf(&b, "Transcriptions:\n")
		fmt.Fprintf(&b, "  - Successful: %d\n", t.Successful)
		fmt.Fprintf(&b, "  - Failed: %d\n", t.Failed)
		fmt.Fprintf(&b, "  - Total audio: %.1f minutes\n", t.AudioSeconds/60)
		fmt.Fprintf(&b, "  - Total processing time: %.1f minutes\n", t.TotalTime/60)
		fmt.Fprintf(&b, "  - Average speedup: %.1fx realtime\n", speedup)
		fmt.Fprintf(&b, "  - Average time per video: %.1f seconds\n", t.TotalTime/float64(t.Successful))
	}

	return b.String()
}
