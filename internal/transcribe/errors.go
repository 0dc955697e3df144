package transcribe

import (
	"errors"
	"fmt"
)

// ErrEngine indicates the transcription capability itself failed.
var ErrEngine = errors.New("transcription engine failed")

// ChunkError tags an engine failure with the chunk it belongs to. A failed
// chunk never corrupts or blocks its siblings; the pool decides whether it
// fails the whole job or is skipped.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
