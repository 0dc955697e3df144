// Package transcript assembles per-chunk transcription results into a
// single ordered transcript and persists it as text and JSON artifacts.
package transcript

import (
	"sort"
	"strings"
)

// Method tags transcripts produced by the chunked parallel pipeline.
const Method = "chunked_parallel"

// Segment is one timed piece of transcribed speech. Start and End are
// absolute seconds on the recording's timeline. Immutable once created.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ChunkResult is the output of transcribing one chunk: its text, its
// segments rebased to the absolute timeline, and the chunk's index.
type ChunkResult struct {
	Index    int
	Text     string
	Segments []Segment
}

// Merge combines chunk results into the final transcript, regardless of
// the order chunks finished in.
//
// The full text joins non-empty chunk texts with a paragraph separator in
// chunk-index order. The segment sequence is independently flattened and
// stable-sorted by start time, so ties keep their original relative order.
// These two orderings are intentionally different.
//
// Segments from adjacent chunks may overlap by fractions of a second at
// cut points; no deduplication or boundary correction is performed.
func Merge(results []ChunkResult) (string, []Segment) {
	byIndex := make([]ChunkResult, len(results))
	copy(byIndex, results)
	sort.SliceStable(byIndex, func(i, j int) bool {
		return byIndex[i].Index < byIndex[j].Index
	})

	var parts []string
	var segments []Segment
	for _, r := range byIndex {
		if r.Text != "" {
			parts = append(parts, r.Text)
		}
		segments = append(segments, r.Segments...)
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})

	return strings.TrimSpace(strings.Join(parts, "\n\n")), segments
}
