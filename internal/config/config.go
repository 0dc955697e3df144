// Package config loads pipeline configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/goccy/go-yaml"
)

// Environment variable overrides. Env wins over the config file so a
// deployment can retune a run without editing the file.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvModel       = "WHISPER_MODEL"
	EnvMode        = "TRANSCRIPTION_MODE"
	EnvKeepVideos  = "KEEP_VIDEOS"
)

// ErrInvalid indicates the configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every knob of a pipeline run.
type Config struct {
	// DatabaseURL is the Postgres DSN for the status store. Required.
	DatabaseURL string `yaml:"database_url"`

	// MaxDownloads bounds the network-bound download pool.
	MaxDownloads int `yaml:"max_downloads"`

	// MaxTranscriptions bounds the CPU-bound transcription pool.
	MaxTranscriptions int `yaml:"max_transcriptions"`

	// ChunkSeconds is the target audio chunk length.
	ChunkSeconds int `yaml:"chunk_seconds"`

	// Model is the transcription model identifier.
	Model string `yaml:"model"`

	// Mode is "quality" or "fast".
	Mode string `yaml:"mode"`

	// Engine selects the transcription backend: "local" or "openai".
	Engine string `yaml:"engine"`

	// WhisperCommand overrides the local engine helper binary.
	WhisperCommand string `yaml:"whisper_command"`

	// OpenAIAPIKey authenticates the openai engine.
	OpenAIAPIKey string `yaml:"openai_api_key"`

	// KeepVideos disables deleting source videos after transcription.
	KeepVideos bool `yaml:"keep_videos"`

	// AllowPartial lets a run produce a transcript with gaps instead of
	// failing the job when a single chunk fails.
	AllowPartial bool `yaml:"allow_partial"`

	// Working directories.
	VideosDir      string `yaml:"videos_dir"`
	ChunksDir      string `yaml:"chunks_dir"`
	TranscriptsDir string `yaml:"transcripts_dir"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		MaxDownloads:      3,
		MaxTranscriptions: 2,
		ChunkSeconds:      30,
		Model:             "small",
		Mode:              "quality",
		Engine:            "local",
		VideosDir:         "tmp/videos",
		ChunksDir:         "tmp/chunks",
		TranscriptsDir:    "transcriptions",
	}
}

// Load builds a Config from defaults, an optional YAML file, and
// environment overrides, in that precedence order. An empty path skips the
// file; a named file must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's flag
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv(EnvMode); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv(EnvKeepVideos); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.KeepVideos = b
		}
	}
}

// Validate checks invariants that would otherwise fail mid-run.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%w: database URL is required", ErrInvalid)
	}
	if c.MaxDownloads < 1 {
		return fmt.Errorf("%w: max_downloads must be at least 1", ErrInvalid)
	}
	if c.MaxTranscriptions < 1 {
		return fmt.Errorf("%w: max_transcriptions must be at least 1", ErrInvalid)
	}
	if c.ChunkSeconds < 1 {
		return fmt.Errorf("%w: chunk_seconds must be at least 1", ErrInvalid)
	}
	if c.Mode != "quality" && c.Mode != "fast" {
		return fmt.Errorf("%w: mode must be %q or %q, got %q", ErrInvalid, "quality", "fast", c.Mode)
	}
	switch c.Engine {
	case "local":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: openai engine requires an API key", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: engine must be %q or %q, got %q", ErrInvalid, "local", "openai", c.Engine)
	}
	return nil
}
