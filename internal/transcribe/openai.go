package transcribe

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"hearing-transcriber/internal/transcript"
)

// audioTranscriber is the slice of the OpenAI client this engine needs.
// *openai.Client implements it implicitly; tests inject mocks.
type audioTranscriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Compile-time interface compliance checks.
var (
	_ Engine           = (*OpenAIEngine)(nil)
	_ audioTranscriber = (*openai.Client)(nil)
)

// OpenAIEngine transcribes chunks through OpenAI's transcription API using
// the verbose JSON format, which carries timed segments. The API performs
// its own decoding search and voice-activity handling, so the fast/quality
// mode parameters apply only to the local engine.
type OpenAIEngine struct {
	client audioTranscriber
	opts   Options
}

// NewOpenAIEngine creates an OpenAIEngine. The client is injected to
// enable testing with mocks.
func NewOpenAIEngine(client audioTranscriber, opts Options) *OpenAIEngine {
	return &OpenAIEngine{client: client, opts: opts}
}

// OpenAIEngineFactory returns an EngineFactory producing OpenAIEngines
// backed by a shared HTTP client. The client holds no model state, so
// sharing it across workers is safe.
func OpenAIEngineFactory(client *openai.Client, opts Options) EngineFactory {
	return func() (Engine, error) {
		return NewOpenAIEngine(client, opts), nil
	}
}

// Transcribe sends one audio file to the API.
func (e *OpenAIEngine) Transcribe(ctx context.Context, audioPath string) (Transcription, error) {
	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.opts.Model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: e.opts.Language,
	})
	if err != nil {
		return Transcription{}, fmt.Errorf("%w: %v", ErrEngine, err)
	}

	tr := Transcription{Duration: resp.Duration}
	for _, s := range resp.Segments {
		tr.Segments = append(tr.Segments, transcript.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		})
	}
	return tr, nil
}
