// Package cli defines the cobra commands for the hearing transcriber.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"hearing-transcriber/internal/config"
	"hearing-transcriber/internal/download"
	"hearing-transcriber/internal/media"
	"hearing-transcriber/internal/scheduler"
	"hearing-transcriber/internal/store"
	"hearing-transcriber/internal/transcribe"
)

// audioLanguage is fixed: the hearings this pipeline ingests are English.
const audioLanguage = "en"

// processFlags carries the command-line overrides for one run.
type processFlags struct {
	configPath     string
	downloads      int
	transcriptions int
	chunkSeconds   int
	dbURL          string
	model          string
	mode           string
	engine         string
	whisperCommand string
	keepVideos     bool
	allowPartial   bool
	jsonSummary    bool
}

// register binds the overrides onto cmd.
func (f *processFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().IntVar(&f.downloads, "downloads", 3, "max concurrent downloads")
	cmd.Flags().IntVar(&f.transcriptions, "transcriptions", 2, "max concurrent transcriptions")
	cmd.Flags().IntVar(&f.chunkSeconds, "chunk-duration", 30, "target chunk length in seconds")
	cmd.Flags().StringVar(&f.dbURL, "db-url", "", "Postgres DSN for the status store")
	cmd.Flags().StringVar(&f.model, "model", "small", "transcription model")
	cmd.Flags().StringVar(&f.mode, "mode", "quality", "decode mode: quality or fast")
	cmd.Flags().StringVar(&f.engine, "engine", "local", "transcription engine: local or openai")
	cmd.Flags().StringVar(&f.whisperCommand, "whisper-command", "", "local engine helper binary")
	cmd.Flags().BoolVar(&f.keepVideos, "keep-videos", false, "keep source videos after transcription")
	cmd.Flags().BoolVar(&f.allowPartial, "allow-partial", false, "produce transcripts with gaps instead of failing on a bad chunk")
	cmd.Flags().BoolVar(&f.jsonSummary, "json-summary", false, "print the run summary as JSON on stdout")
}

// apply copies only the flags the user actually set onto cfg, so the
// config file and env keep their values for everything else.
func (f *processFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := map[string]func(){
		"downloads":       func() { cfg.MaxDownloads = f.downloads },
		"transcriptions":  func() { cfg.MaxTranscriptions = f.transcriptions },
		"chunk-duration":  func() { cfg.ChunkSeconds = f.chunkSeconds },
		"db-url":          func() { cfg.DatabaseURL = f.dbURL },
		"model":           func() { cfg.Model = f.model },
		"mode":            func() { cfg.Mode = f.mode },
		"engine":          func() { cfg.Engine = f.engine },
		"whisper-command": func() { cfg.WhisperCommand = f.whisperCommand },
		"keep-videos":     func() { cfg.KeepVideos = f.keepVideos },
		"allow-partial":   func() { cfg.AllowPartial = f.allowPartial },
	}
	for name, assign := range set {
		if cmd.Flags().Changed(name) {
			assign()
		}
	}
}

// ProcessCmd returns the `process` subcommand: one full pipeline run over
// every pending job.
func ProcessCmd() *cobra.Command {
	var flags processFlags

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Download and transcribe all pending hearings",
		Long: `Process runs one pass of the pipeline: pending hearings are
downloaded in a bounded pool, chained into a transcription pool that
chunks audio at silence boundaries, and their transcripts are written to
disk and recorded in the status store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil && !errors.Is(err, config.ErrInvalid) {
				return err
			}
			// Flags win over file and env, and may supply what both
			// left out.
			flags.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runProcess(cmd, cfg, flags.jsonSummary)
		},
	}

	flags.register(cmd)
	return cmd
}

func runProcess(cmd *cobra.Command, cfg config.Config, jsonSummary bool) error {
	ctx := cmd.Context()

	gw, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer gw.Close()

	extractor := media.NewExtractor()
	downloader := download.NewDownloader(extractor)

	opts := transcribe.Options{
		Model:    cfg.Model,
		Mode:     transcribe.Mode(cfg.Mode),
		Language: audioLanguage,
	}
	var factory transcribe.EngineFactory
	if cfg.Engine == "openai" {
		factory = transcribe.OpenAIEngineFactory(openai.NewClient(cfg.OpenAIAPIKey), opts)
	} else {
		factory = transcribe.LocalEngineFactory(cfg.WhisperCommand, opts)
	}

	maker := func(workers int, allowPartial bool) scheduler.TranscriberPool {
		poolOpts := []transcribe.PoolOption{
			transcribe.WithWorkers(workers),
			transcribe.WithWarnFunc(func(msg string) { log.Print(msg) }),
		}
		if allowPartial {
			poolOpts = append(poolOpts, transcribe.WithAllowPartial(true))
		}
		return transcribe.NewPool(factory, poolOpts...)
	}

	sched := scheduler.New(gw, downloader, extractor, maker, cfg)
	final, err := sched.Run(ctx)
	if err != nil {
		return err
	}

	if jsonSummary {
		data, err := json.MarshalIndent(final, "", "  ")
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	}
	return nil
}
