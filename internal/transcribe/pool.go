package transcribe

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"hearing-transcriber/internal/chunk"
	"hearing-transcriber/internal/transcript"
)

// WarnFunc is a callback for warning messages during pool runs.
// Set to nil to suppress warnings.
type WarnFunc func(msg string)

// Pool transcribes chunk files across a fixed number of workers. Each
// worker builds its own engine instance from the factory, so transcription
// runs truly in parallel without contention on shared model state.
type Pool struct {
	factory      EngineFactory
	workers      int
	allowPartial bool
	warn         WarnFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the worker count. Values below 1 become 1.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n >= 1 {
			p.workers = n
		}
	}
}

// WithAllowPartial makes the pool skip failed chunks instead of failing
// the whole run, producing a transcript with a gap. Default: a single
// chunk failure aborts the run.
func WithAllowPartial(allow bool) PoolOption {
	return func(p *Pool) {
		p.allowPartial = allow
	}
}

// WithWarnFunc sets a callback for warning messages.
func WithWarnFunc(fn WarnFunc) PoolOption {
	return func(p *Pool) {
		p.warn = fn
	}
}

// NewPool creates a Pool with functional options.
func NewPool(factory EngineFactory, opts ...PoolOption) *Pool {
	p := &Pool{
		factory: factory,
		workers: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Transcribe runs all chunks through the pool and returns their results in
// completion order (the merge engine re-orders them). In the default
// policy the first chunk failure cancels in-flight siblings and returns a
// ChunkError; with AllowPartial the failed chunk is skipped with a warning
// and the remaining results are returned.
func (p *Pool) Transcribe(ctx context.Context, chunks []chunk.Descriptor) ([]transcript.ChunkResult, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	jobs := make(chan chunk.Descriptor, len(chunks))
	for _, d := range chunks {
		jobs <- d
	}
	close(jobs)

	results := make(chan transcript.ChunkResult, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			engine, err := p.factory()
			if err != nil {
				return fmt.Errorf("create engine: %w", err)
			}
			for d := range jobs {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}

				res, err := transcribeChunk(ctx, engine, d)
				if err != nil {
					cerr := &ChunkError{Index: d.Index, Err: err}
					if p.allowPartial {
						if p.warn != nil {
							p.warn(fmt.Sprintf("Warning: skipping failed %s: %v", d, err))
						}
						continue
					}
					return cerr
				}
				results <- res
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)

	out := make([]transcript.ChunkResult, 0, len(chunks))
	for r := range results {
		out = append(out, r)
	}
	return out, nil
}

// transcribeChunk transcribes one chunk, rebases its timestamps by the
// chunk's absolute start offset, drops segments whose trimmed text is
// empty, and deletes the chunk file. The transcriber is the chunk file's
// terminal owner: on success the file is gone; on failure it is left for
// the scheduler's cleanup sweep.
func transcribeChunk(ctx context.Context, engine Engine, d chunk.Descriptor) (transcript.ChunkResult, error) {
	raw, err := engine.Transcribe(ctx, d.Path)
	if err != nil {
		return transcript.ChunkResult{}, err
	}

	offset := d.Start.Seconds()
	var segments []transcript.Segment
	var parts []string
	for _, s := range raw.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, transcript.Segment{
			Start: s.Start + offset,
			End:   s.End + offset,
			Text:  text,
		})
		parts = append(parts, text)
	}

	_ = os.Remove(d.Path) // file may already be gone; nothing more to do with it

	return transcript.ChunkResult{
		Index:    d.Index,
		Text:     strings.Join(parts, "\n"),
		Segments: segments,
	}, nil
}
