package media

import "errors"

// ErrTool indicates an ffmpeg/ffprobe invocation failed.
// Tool failures are deterministic for a given input and are not retried.
var ErrTool = errors.New("media tool failed")

// ErrIntegrity indicates a media file is corrupt or truncated.
// The artifact should be discarded rather than reprocessed.
var ErrIntegrity = errors.New("media integrity check failed")
