// Package media wraps the ffmpeg and ffprobe command-line tools behind a
// small set of synchronous operations: probe duration, extract mono 16kHz
// audio, detect silence intervals, cut a time range, verify integrity, and
// remux an HLS stream into an MP4 container. Each operation is one external
// process call.
package media

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Default detection parameters.
const (
	// defaultNoiseDB is the silence detection threshold in dB.
	// -40dB suits hearing-room audio with persistent HVAC noise.
	defaultNoiseDB = -40.0

	// defaultMinSilence is the minimum low-energy span reported as silence.
	defaultMinSilence = 500 * time.Millisecond

	// defaultVerifyTimeout bounds the structural integrity probe.
	// A probe that cannot finish in this window is treated as a failure.
	defaultVerifyTimeout = 10 * time.Second
)

// SilenceInterval is a detected low-energy span in an audio file.
// Offsets are relative to the start of the file.
type SilenceInterval struct {
	Start time.Duration
	End   time.Duration
}

// Extractor runs ffmpeg and ffprobe. The binaries must be on PATH (or
// supplied via options); the extractor never downloads them.
type Extractor struct {
	ffmpegPath  string
	ffprobePath string
	noiseDB     float64
	minSilence  time.Duration

	// Injectable dependencies (defaults to OS implementations).
	cmd   commandRunner
	files fileRenamer
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithFFmpegPath sets the ffmpeg binary path. Default: "ffmpeg".
func WithFFmpegPath(path string) Option {
	return func(e *Extractor) {
		e.ffmpegPath = path
	}
}

// WithFFprobePath sets the ffprobe binary path. Default: "ffprobe".
func WithFFprobePath(path string) Option {
	return func(e *Extractor) {
		e.ffprobePath = path
	}
}

// WithNoiseDB sets the silence detection threshold in dB.
// Lower values (more negative) treat quieter sounds as silence.
func WithNoiseDB(db float64) Option {
	return func(e *Extractor) {
		e.noiseDB = db
	}
}

// WithMinSilence sets the minimum silence duration to detect.
func WithMinSilence(d time.Duration) Option {
	return func(e *Extractor) {
		e.minSilence = d
	}
}

// WithCommandRunner sets the command runner (for testing).
func WithCommandRunner(r commandRunner) Option {
	return func(e *Extractor) {
		e.cmd = r
	}
}

// WithFileRenamer sets the file renamer (for testing).
func WithFileRenamer(f fileRenamer) Option {
	return func(e *Extractor) {
		e.files = f
	}
}

// NewExtractor creates an Extractor with functional options.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		noiseDB:     defaultNoiseDB,
		minSilence:  defaultMinSilence,
		cmd:         osCommandRunner{},
		files:       osFileRenamer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProbeDuration returns the duration of a media file.
func (e *Extractor) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	out, err := e.cmd.Output(ctx, e.ffprobePath, args)
	if err != nil {
		return 0, fmt.Errorf("%w: probe duration of %s: %v", ErrTool, path, err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unparsable duration %q for %s", ErrTool, strings.TrimSpace(string(out)), path)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// ExtractAudio extracts single-channel 16kHz PCM audio from a video file.
// A failure here is fatal for the job's transcription phase.
func (e *Extractor) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	args := []string{
		"-i", videoPath,
		"-vn", "-acodec", "pcm_s16le",
		"-ar", "16000", "-ac", "1",
		audioPath, "-y", "-loglevel", "error",
	}
	if out, err := e.cmd.CombinedOutput(ctx, e.ffmpegPath, args); err != nil {
		return fmt.Errorf("%w: extract audio from %s: %v: %s", ErrTool, videoPath, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// DetectSilence runs the silencedetect filter and parses its diagnostics.
// An interval is reported only when both its start and end markers were
// observed; an unterminated trailing silence is dropped.
func (e *Extractor) DetectSilence(ctx context.Context, audioPath string) ([]SilenceInterval, error) {
	args := []string{
		"-i", audioPath,
		"-af", fmt.Sprintf("silencedetect=noise=%ddB:d=%.2f", int(e.noiseDB), e.minSilence.Seconds()),
		"-f", "null", "-",
	}
	out, err := e.cmd.CombinedOutput(ctx, e.ffmpegPath, args)
	if err != nil && len(out) == 0 {
		// ffmpeg can return non-zero even when the filter output is usable,
		// so only a silent failure is terminal.
		return nil, fmt.Errorf("%w: detect silence in %s: %v", ErrTool, audioPath, err)
	}
	return parseSilenceOutput(string(out)), nil
}

// silenceStartRe and silenceEndRe match silencedetect diagnostic lines:
//
//	[silencedetect @ 0x...] silence_start: 42.123
//	[silencedetect @ 0x...] silence_end: 43.456 | silence_duration: 1.333
var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*([\d.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*([\d.]+)`)
)

// parseSilenceOutput extracts start/end pairs from silencedetect output.
func parseSilenceOutput(output string) []SilenceInterval {
	var intervals []SilenceInterval
	var currentStart time.Duration
	hasStart := false

	for _, line := range strings.Split(output, "\n") {
		if m := silenceStartRe.FindStringSubmatch(line); m != nil {
			if seconds, err := strconv.ParseFloat(m[1], 64); err == nil {
				currentStart = time.Duration(seconds * float64(time.Second))
				hasStart = true
			}
		}
		if m := silenceEndRe.FindStringSubmatch(line); m != nil && hasStart {
			if seconds, err := strconv.ParseFloat(m[1], 64); err == nil {
				intervals = append(intervals, SilenceInterval{
					Start: currentStart,
					End:   time.Duration(seconds * float64(time.Second)),
				})
				hasStart = false
			}
		}
	}

	return intervals
}

// CutSegment stream-copies a time range of an audio file into outPath.
// No re-encoding happens; the caller must not request spans shorter than
// the planner's minimum viable duration.
func (e *Extractor) CutSegment(ctx context.Context, audioPath string, start, duration time.Duration, outPath string) error {
	args := []string{
		"-i", audioPath,
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-c", "copy", outPath,
		"-y", "-loglevel", "error",
	}
	if out, err := e.cmd.CombinedOutput(ctx, e.ffmpegPath, args); err != nil {
		return fmt.Errorf("%w: cut %s-%s of %s: %v: %s",
			ErrTool, formatSeconds(start), formatSeconds(start+duration), audioPath, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// VerifyIntegrity runs a fast structural probe (not a full decode) to
// reject truncated downloads before transcription. A probe timeout counts
// as a failure and is not retried.
func (e *Extractor) VerifyIntegrity(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultVerifyTimeout)
	defer cancel()

	args := []string{"-v", "error", "-show_format", "-show_streams", path}
	out, err := e.cmd.CombinedOutput(ctx, e.ffprobePath, args)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: verification timeout for %s", ErrIntegrity, path)
		}
		return fmt.Errorf("%w: %s: %s", ErrIntegrity, path, strings.TrimSpace(string(out)))
	}
	return nil
}

// RemuxStream downloads an HLS/m3u8 stream and repackages it into an MP4
// container without re-encoding. The download lands in a ".downloading"
// temp file renamed into place only on success, so a partial transfer never
// masquerades as a finished video.
func (e *Extractor) RemuxStream(ctx context.Context, url, outPath string) error {
	tempPath := outPath + ".downloading"
	args := []string{
		"-i", url,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-f", "mp4",
		tempPath,
		"-y",
	}
	if out, err := e.cmd.CombinedOutput(ctx, e.ffmpegPath, args); err != nil {
		return fmt.Errorf("%w: remux stream %s: %v: %s", ErrTool, url, err, strings.TrimSpace(string(out)))
	}
	if err := e.files.Rename(tempPath, outPath); err != nil {
		return fmt.Errorf("finalize remuxed stream: %w", err)
	}
	return nil
}

// formatSeconds formats a duration for ffmpeg -ss/-t arguments.
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
