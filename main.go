package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	pb "gopkg.in/cheggaaa/pb.v1"

	"news-video-pipeline/05_publish"
	"news-video-pipeline/config"
	"news-video-pipeline/pipeline"
	"news-video-pipeline/types"
)

// runState is written to pipeline_state.json whatever the outcome
type runState struct {
	RunID       string                 `json:"run_id"`
	Script      string                 `json:"script"`
	StartedAt   string                 `json:"started_at"`
	CompletedAt string                 `json:"completed_at,omitempty"`
	Video       *types.MediaResult     `json:"video,omitempty"`
	Metadata    *publish.VideoMetadata `json:"metadata,omitempty"`
	Upload      *publish.UploadResult  `json:"upload,omitempty"`
	ArchiveURL  string                 `json:"archive_url,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

type options struct {
	configPath string
	scriptPath string
	voice      string
	mode       string
	duration   float64
	upload     bool
	archive    bool
	quiet      bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "config.yaml", "path to config.yaml")
	flag.StringVar(&o.scriptPath, "script", "", "scene script JSON (required)")
	flag.StringVar(&o.voice, "voice", "", "male or female (overrides the script)")
	flag.StringVar(&o.mode, "mode", "", "stock-footage, template-image or generative (overrides the script)")
	flag.Float64Var(&o.duration, "duration", 0, "target duration in seconds (overrides the script)")
	flag.BoolVar(&o.upload, "upload", false, "upload the finished video to YouTube")
	flag.BoolVar(&o.archive, "archive", false, "archive the finished video to GCS")
	flag.BoolVar(&o.quiet, "quiet", false, "no progress bar")
	flag.Parse()

	if o.scriptPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	// .env is for local runs; deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load(o.configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ failed to load config")
	}
	config.SetupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, o)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, o options) error {
	for _, dir := range []string{cfg.Paths.Temp, cfg.Paths.Output} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Error().Err(err).Str("dir", dir).Msg("❌ failed to create directory")
			return err
		}
	}

	state := &runState{
		RunID:     uuid.NewString()[:8],
		Script:    o.scriptPath,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	runDir := filepath.Join(cfg.Paths.Output, state.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		log.Error().Err(err).Msg("❌ failed to create run dir")
		return err
	}
	log.Info().Str("run", state.RunID).Str("dir", runDir).Msg("🎬 news video pipeline starting")

	var runErr error
	defer func() {
		state.CompletedAt = time.Now().UTC().Format(time.RFC3339)
		if runErr != nil {
			state.Error = runErr.Error()
		}
		saveState(state, runDir)
		if runErr != nil {
			log.Error().Msgf("❌ pipeline failed: %s", state.Error)
			return
		}
		log.Info().Str("video", state.Video.Path).Msg("✅ pipeline complete")
	}()

	req, err := loadScript(o)
	if err != nil {
		runErr = err
		return err
	}
	saveJSON(filepath.Join(runDir, "script.json"), req)

	log.Info().Msg("━━━ Render ━━━")
	res, err := pipeline.New(cfg).Run(ctx, req, progressBar(o.quiet))
	if err != nil {
		runErr = fmt.Errorf("render: %w", err)
		return runErr
	}
	state.Video = res

	meta := publish.BuildMetadata(cfg.Publish.YouTube, publish.MetadataInput{
		Title:    req.Title,
		Topic:    req.Topic,
		SubTopic: req.SubTopic,
		Scenes:   req.Scenes,
	})
	state.Metadata = meta
	saveJSON(filepath.Join(runDir, "metadata.json"), meta)

	if o.upload || cfg.Publish.YouTube.Enabled {
		log.Info().Msg("━━━ YouTube Upload ━━━")
		up, err := publish.NewUploader(cfg.Publish.YouTube, !o.quiet).Upload(ctx, res.Path, meta)
		if err != nil {
			runErr = fmt.Errorf("upload: %w", err)
			return runErr
		}
		state.Upload = up
		if _, err := publish.LogUpload(runDir, res.Path, up, meta); err != nil {
			log.Warn().Err(err).Msg("⚠️  could not write upload log")
		}
	}

	if o.archive || cfg.Publish.GCS.Enabled {
		log.Info().Msg("━━━ Archive ━━━")
		url, err := publish.NewArchiver(cfg.Publish.GCS, !o.quiet).Archive(ctx, res.Path)
		if err != nil {
			// archive is best effort
			log.Warn().Err(err).Msg("⚠️  archive failed, keeping the local copy only")
		} else {
			state.ArchiveURL = url
		}
	}
	return nil
}

// loadScript reads the scene script and applies the command-line overrides
func loadScript(o options) (pipeline.Request, error) {
	var req pipeline.Request
	data, err := os.ReadFile(o.scriptPath)
	if err != nil {
		return req, fmt.Errorf("read script: %w", err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("parse script %s: %w", o.scriptPath, err)
	}
	if o.voice != "" {
		req.Voice = types.VoiceProfile(strings.ToLower(o.voice))
	}
	if o.mode != "" {
		req.Mode = types.VisualMode(strings.ToLower(o.mode))
	}
	if o.duration > 0 {
		req.TargetDuration = o.duration
	}
	if len(req.Scenes) == 0 {
		return req, errors.New("script has no scenes")
	}
	return req, nil
}

// progressBar draws pipeline progress on stdout; quiet logs the updates instead
func progressBar(quiet bool) pipeline.ProgressFunc {
	if quiet {
		return func(p types.Progress) {
			log.Info().Int("pct", p.Percent).Str("stage", string(p.Stage)).Msg(p.Message)
		}
	}
	bar := pb.New(100)
	bar.ShowCounters = false
	bar.ShowSpeed = false
	bar.SetMaxWidth(100)
	bar.Start()
	return func(p types.Progress) {
		bar.Postfix(" " + p.Message)
		bar.Set(p.Percent)
		if p.Stage == types.StageDone || p.Stage == types.StageError {
			bar.Finish()
		}
	}
}

func saveState(state *runState, dir string) {
	saveJSON(filepath.Join(dir, "pipeline_state.json"), state)
}

func saveJSON(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msgf("could not marshal JSON for %s", path)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Warn().Err(err).Msgf("could not save %s", path)
	}
}
