// Package transcribe runs the speech-to-text capability over chunk files
// in a bounded pool of workers, each owning its own engine instance, and
// rebases chunk-local timestamps onto the recording's absolute timeline.
package transcribe

import (
	"context"
	"time"

	"hearing-transcriber/internal/transcript"
)

// Mode selects the decoding trade-off for a transcription run.
type Mode string

const (
	// ModeFast uses a smaller search width and no conditioning on
	// previously decoded text.
	ModeFast Mode = "fast"

	// ModeQuality uses a larger search width and conditions decoding on
	// text decoded earlier within the same chunk. Chunks are independent
	// jobs, so conditioning never crosses chunk boundaries.
	ModeQuality Mode = "quality"
)

// Decode parameters per mode, matching the upstream whisper defaults this
// pipeline was tuned against.
const (
	fastBeamSize    = 3
	fastBestOf      = 3
	qualityBeamSize = 5
	qualityBestOf   = 5
)

// vadMinSilence is the fixed minimum silence gap for voice-activity
// filtering inside the engine.
const vadMinSilence = 500 * time.Millisecond

// Params returns the decoding parameters for the mode. Unknown modes fall
// back to quality.
func (m Mode) Params() (beamSize, bestOf int, conditionOnPrevious bool) {
	if m == ModeFast {
		return fastBeamSize, fastBestOf, false
	}
	return qualityBeamSize, qualityBestOf, true
}

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	return m == ModeFast || m == ModeQuality
}

// Options configures an engine instance.
type Options struct {
	// Model is the transcription model identifier, passed through
	// untuned (quality tuning is out of scope).
	Model string

	// Mode selects fast or quality decoding.
	Mode Mode

	// Language is the expected audio language.
	Language string
}

// Transcription is the raw engine output for one audio file. Segment
// timestamps are local to that file; the pool rebases them.
type Transcription struct {
	Segments []transcript.Segment
	Duration float64
}

// Engine converts one audio file into timed text segments.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) (Transcription, error)
}

// EngineFactory constructs a fresh engine. Each pool worker calls it once
// and owns the resulting instance, so no model state is shared between
// workers.
type EngineFactory func() (Engine, error)
