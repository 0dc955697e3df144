// Package chunk plans and cuts time-bounded slices of a recording's audio
// so they can be transcribed independently and re-merged.
package chunk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hearing-transcriber/internal/media"
)

const (
	// LookaheadSlack extends the silence search window past the target
	// split point. A silence ending shortly after the target still makes a
	// better cut than a hard mid-sentence split.
	LookaheadSlack = 5 * time.Second

	// MinViableDuration is the shortest span worth cutting into a file.
	// Shorter spans are skipped; the walk still advances past them.
	MinViableDuration = 500 * time.Millisecond
)

// Span is a planned slice of the recording timeline. Index is the
// authoritative ordering key for text concatenation.
type Span struct {
	Start time.Duration
	End   time.Duration
	Index int
}

// Duration returns the length of this span.
func (s Span) Duration() time.Duration {
	return s.End - s.Start
}

// Plan walks the timeline from 0 to total, emitting spans of at most
// chunkLen that prefer ending at a detected silence. For each step the
// target end is start+chunkLen (capped at total); the silence whose end
// marker falls within (start, target+LookaheadSlack] and lies closest to
// the target wins, otherwise the cut lands exactly on the target.
//
// Spans at or under MinViableDuration are not emitted; the walk still
// advances to the chosen split point, so degenerate spans are absorbed
// without cutting a file. This greedy nearest-silence heuristic trades
// split precision for simplicity; it does not globally optimize silence
// alignment across the timeline.
func Plan(total, chunkLen time.Duration, silences []media.SilenceInterval) []Span {
	if total <= 0 || chunkLen <= 0 {
		return nil
	}

	var spans []Span
	current := time.Duration(0)
	index := 0

	for current < total {
		target := min(current+chunkLen, total)

		split := target
		minDistance := time.Duration(1<<63 - 1)
		for _, silence := range silences {
			if silence.End <= current || silence.End > target+LookaheadSlack {
				continue
			}
			distance := silence.End - target
			if distance < 0 {
				distance = -distance
			}
			if distance < minDistance {
				minDistance = distance
				split = silence.End
			}
		}

		if split-current > MinViableDuration {
			spans = append(spans, Span{Start: current, End: split, Index: index})
			index++
		}
		current = split
	}

	return spans
}

// cutter cuts a time range of an audio file into a new file.
// *media.Extractor implements this.
type cutter interface {
	CutSegment(ctx context.Context, audioPath string, start, duration time.Duration, outPath string) error
}

// Descriptor is a cut chunk file awaiting transcription. Ownership of the
// file transfers on handoff: the transcriber deletes it on success, the
// scheduler's cleanup sweeps it up on abandonment.
type Descriptor struct {
	Path     string
	Start    time.Duration
	Duration time.Duration
	Index    int
}

// String returns a human-readable representation for logging.
func (d Descriptor) String() string {
	return fmt.Sprintf("chunk %d: %.1fs+%.1fs", d.Index, d.Start.Seconds(), d.Duration.Seconds())
}

// Cut materializes planned spans as {jobID}_chunk_{NNN}.wav files in dir.
// On a mid-sequence failure the already-cut files are removed best-effort
// and the original error is returned.
func Cut(ctx context.Context, c cutter, audioPath, dir, jobID string, spans []Span) ([]Descriptor, error) {
	chunks := make([]Descriptor, 0, len(spans))
	for _, span := range spans {
		path := filepath.Join(dir, fmt.Sprintf("%s_chunk_%03d.wav", jobID, span.Index))
		if err := c.CutSegment(ctx, audioPath, span.Start, span.Duration(), path); err != nil {
			for _, done := range chunks {
				_ = os.Remove(done.Path) // best-effort cleanup; original error takes precedence
			}
			return nil, err
		}
		chunks = append(chunks, Descriptor{
			Path:     path,
			Start:    span.Start,
			Duration: span.Duration(),
			Index:    span.Index,
		})
	}
	return chunks, nil
}
