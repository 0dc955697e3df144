package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"hearing-transcriber/internal/transcript"
)

// DefaultLocalCommand is the faster-whisper helper expected on PATH. It
// takes an audio file plus decode flags and emits a JSON transcription on
// stdout.
const DefaultLocalCommand = "faster-whisper-json"

// outputRunner executes the helper command and returns its stdout.
type outputRunner interface {
	Output(ctx context.Context, name string, args []string) ([]byte, error)
}

// osOutputRunner implements outputRunner using exec.CommandContext.
type osOutputRunner struct{}

func (osOutputRunner) Output(ctx context.Context, name string, args []string) ([]byte, error) {
	// #nosec G204 -- name and args are constructed by the engine, not user input
	return exec.CommandContext(ctx, name, args...).Output()
}

// Compile-time interface compliance check.
var _ Engine = (*LocalEngine)(nil)

// LocalEngine transcribes by spawning a faster-whisper helper process per
// chunk. The per-invocation process is the isolation unit: every call
// loads its own model instance, so parallel chunks never contend on
// shared model state.
type LocalEngine struct {
	command string
	opts    Options
	cmd     outputRunner
}

// LocalEngineOption configures a LocalEngine.
type LocalEngineOption func(*LocalEngine)

// WithOutputRunner sets the command runner (for testing).
func WithOutputRunner(r outputRunner) LocalEngineOption {
	return func(e *LocalEngine) {
		e.cmd = r
	}
}

// NewLocalEngine creates a LocalEngine invoking command.
func NewLocalEngine(command string, opts Options, engineOpts ...LocalEngineOption) *LocalEngine {
	if command == "" {
		command = DefaultLocalCommand
	}
	e := &LocalEngine{
		command: command,
		opts:    opts,
		cmd:     osOutputRunner{},
	}
	for _, opt := range engineOpts {
		opt(e)
	}
	return e
}

// LocalEngineFactory returns an EngineFactory producing LocalEngines.
func LocalEngineFactory(command string, opts Options) EngineFactory {
	return func() (Engine, error) {
		return NewLocalEngine(command, opts), nil
	}
}

// localOutput mirrors the helper's JSON output.
type localOutput struct {
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe runs the helper over one audio file.
func (e *LocalEngine) Transcribe(ctx context.Context, audioPath string) (Transcription, error) {
	beamSize, bestOf, condition := e.opts.Mode.Params()
	args := []string{
		audioPath,
		"--model", e.opts.Model,
		"--language", e.opts.Language,
		"--beam-size", strconv.Itoa(beamSize),
		"--best-of", strconv.Itoa(bestOf),
		"--condition-on-previous-text", strconv.FormatBool(condition),
		"--vad-filter",
		"--vad-min-silence-ms", strconv.FormatInt(vadMinSilence.Milliseconds(), 10),
		"--output-format", "json",
	}

	out, err := e.cmd.Output(ctx, e.command, args)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return Transcription{}, fmt.Errorf("%w: %s", ErrEngine, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Transcription{}, fmt.Errorf("%w: %v", ErrEngine, err)
	}

	var parsed localOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Transcription{}, fmt.Errorf("%w: unparsable output: %v", ErrEngine, err)
	}

	tr := Transcription{Duration: parsed.Duration}
	for _, s := range parsed.Segments {
		tr.Segments = append(tr.Segments, transcript.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		})
	}
	return tr, nil
}
