package cli

import (
	"testing"

	"github.com/spf13/cobra"

	"hearing-transcriber/internal/config"
)

func parseFlags(t *testing.T, args []string) (*processFlags, *cobra.Command) {
	t.Helper()
	var flags processFlags
	cmd := &cobra.Command{}
	flags.register(cmd)
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return &flags, cmd
}

func TestApply_OnlyChangedFlagsOverride(t *testing.T) {
	t.Parallel()

	flags, cmd := parseFlags(t, []string{"--downloads", "8", "--mode", "fast", "--keep-videos"})

	cfg := config.Default()
	cfg.DatabaseURL = "postgres://db/hearings"
	cfg.Model = "large-v3"

	flags.apply(cmd, &cfg)

	if cfg.MaxDownloads != 8 {
		t.Errorf("MaxDownloads = %d, want flag value 8", cfg.MaxDownloads)
	}
	if cfg.Mode != "fast" || !cfg.KeepVideos {
		t.Errorf("(mode, keep_videos) = (%s, %v), want (fast, true)", cfg.Mode, cfg.KeepVideos)
	}
	if cfg.Model != "large-v3" {
		t.Errorf("Model = %q, want config value untouched by unset flag", cfg.Model)
	}
	if cfg.MaxTranscriptions != 2 {
		t.Errorf("MaxTranscriptions = %d, want untouched default", cfg.MaxTranscriptions)
	}
}

func TestApply_NoFlagsLeavesConfigAlone(t *testing.T) {
	t.Parallel()

	flags, cmd := parseFlags(t, nil)

	cfg := config.Default()
	cfg.DatabaseURL = "postgres://db/hearings"
	cfg.MaxDownloads = 7

	flags.apply(cmd, &cfg)

	if cfg.MaxDownloads != 7 {
		t.Errorf("MaxDownloads = %d, want 7 (flag defaults must not clobber config)", cfg.MaxDownloads)
	}
}

func TestProcessCmd_DeclaresOverrides(t *testing.T) {
	t.Parallel()

	cmd := ProcessCmd()
	for _, name := range []string{
		"config", "downloads", "transcriptions", "chunk-duration", "db-url",
		"model", "mode", "engine", "whisper-command", "keep-videos",
		"allow-partial", "json-summary",
	} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("process command missing --%s", name)
		}
	}
}
