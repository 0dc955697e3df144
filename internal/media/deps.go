package media

import (
	"context"
	"os"
	"os/exec"
)

// commandRunner executes external commands. Output captures stdout only
// (ffprobe writes its answers there), CombinedOutput captures both streams
// (ffmpeg writes diagnostics to stderr).
type commandRunner interface {
	Output(ctx context.Context, name string, args []string) ([]byte, error)
	CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error)
}

// fileRenamer moves a finished temp file into its final location.
type fileRenamer interface {
	Rename(oldpath, newpath string) error
}

// --- Default implementations using real OS functions ---

// osCommandRunner implements commandRunner using exec.CommandContext.
type osCommandRunner struct{}

func (osCommandRunner) Output(ctx context.Context, name string, args []string) ([]byte, error) {
	// #nosec G204 -- name and args are constructed by the extractor, not user input
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}

func (osCommandRunner) CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error) {
	// #nosec G204 -- name and args are constructed by the extractor, not user input
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// osFileRenamer implements fileRenamer using os.Rename.
type osFileRenamer struct{}

func (osFileRenamer) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}
