package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"news-video-pipeline/01_tools"
	"news-video-pipeline/02_audio"
	"news-video-pipeline/03_visuals"
	"news-video-pipeline/04_render"
	"news-video-pipeline/config"
	"news-video-pipeline/types"
)

// ErrInvalidRequest marks requests rejected before any work starts
var ErrInvalidRequest = errors.New("invalid request")

// Request is one video to produce
type Request struct {
	Title          string             `json:"title"`
	Narration      string             `json:"narration"`
	Scenes         []types.Scene      `json:"scenes"`
	Voice          types.VoiceProfile `json:"voiceType"`
	Mode           types.VisualMode   `json:"visualMode"`
	TargetDuration float64            `json:"duration"`
	Topic          string             `json:"topic"`
	SubTopic       string             `json:"subTopic"`
}

// The stages a run drives. The concrete types live in the numbered packages;
// tests swap in doubles.
type (
	ToolResolver interface {
		Resolve(ctx context.Context) (string, error)
	}
	VoiceSynthesizer interface {
		Synthesize(ctx context.Context, workDir, text string, profile types.VoiceProfile) (*types.AudioTrack, error)
	}
	ClipFetcher interface {
		FetchClips(ctx context.Context, workDir string, scenes []types.Scene, topic visuals.TopicContext) ([]types.VisualAsset, error)
	}
	ImageSelector interface {
		SelectImages(ctx context.Context, workDir string, scenes []types.Scene) ([]types.VisualAsset, error)
		SelectImage(ctx context.Context, workDir string, scene types.Scene) (types.VisualAsset, error)
	}
	VideoAssembler interface {
		Assemble(ctx context.Context, job render.Job) (*types.MediaResult, error)
	}
)

// Deps are the collaborators of a Pipeline
type Deps struct {
	Tools     ToolResolver
	Voice     VoiceSynthesizer
	Stock     ClipFetcher
	Templates ImageSelector
	Assembler VideoAssembler
	Prober    tools.Prober
}

// Pipeline turns a scene list into a finished video
type Pipeline struct {
	cfg  *config.Config
	deps Deps
}

// New wires the production stages: ffmpeg from the locator, the TTS command,
// Pexels with PEXELS_API_KEY, and local templates.
func New(cfg *config.Config) *Pipeline {
	locator := tools.NewLocator(cfg.Tools)
	ffmpeg := tools.NewFFmpeg(locator, cfg.Render.MaxLogBytes)
	prober := tools.NewFFprobe(locator)
	pexels := visuals.NewPexelsClient(cfg.Stock, os.Getenv("PEXELS_API_KEY"))

	return NewWithDeps(cfg, Deps{
		Tools:     locator,
		Voice:     audio.NewSynthesizer(cfg.Audio, audio.NewCommandEngine(cfg.Audio), ffmpeg, prober),
		Stock:     visuals.NewStockFetcher(cfg.Stock, pexels, pexels),
		Templates: visuals.NewTemplateSelector(cfg.Visuals, ffmpeg),
		Assembler: render.NewAssembler(cfg, ffmpeg),
		Prober:    prober,
	})
}

// NewWithDeps builds a Pipeline from explicit collaborators
func NewWithDeps(cfg *config.Config, deps Deps) *Pipeline {
	return &Pipeline{cfg: cfg, deps: deps}
}

// Run produces one video. Every failure is a *types.PipelineError; rejected
// requests carry types.FailRequest and wrap ErrInvalidRequest.
func (p *Pipeline) Run(ctx context.Context, req Request, progress ProgressFunc) (*types.MediaResult, error) {
	t := newTracker(progress)
	res, err := p.run(ctx, req, t)
	if err != nil {
		log.Error().Err(err).Msg("[pipeline] ❌ run failed")
		t.fail(err)
		return nil, err
	}
	t.update(types.StageDone, 100, "Video generated successfully")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, t *tracker) (*types.MediaResult, error) {
	start := time.Now()
	t.update(types.StagePreparing, 10, "Preparing video generation")

	req, err := p.normalize(req)
	if err != nil {
		return nil, &types.PipelineError{Stage: types.FailRequest, Err: err}
	}
	if req.Mode == types.ModeGenerative {
		_, err := visuals.RejectGenerative(ctx, req.Scenes)
		return nil, &types.PipelineError{Stage: types.FailSourcing, Err: err}
	}

	// fail fast before any synthesis when there is no encoder
	if _, err := p.deps.Tools.Resolve(ctx); err != nil {
		return nil, &types.PipelineError{Stage: types.FailToolMissing, Err: err}
	}

	runID := uuid.NewString()
	workDir := filepath.Join(p.cfg.Paths.Temp, runID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, &types.PipelineError{Stage: types.FailAssembly, Err: fmt.Errorf("create run dir: %w", err)}
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn().Err(err).Str("dir", workDir).Msg("[pipeline] ⚠️  could not remove run dir")
		}
	}()
	log.Info().Str("run", runID).Str("mode", string(req.Mode)).Str("voice", string(req.Voice)).
		Int("scenes", len(req.Scenes)).Msg("[pipeline] 🎬 run starting")

	var (
		track  *types.AudioTrack
		assets types.AssetSet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t.update(types.StageVoice, 25, "Generating voice narration...")
		var err error
		track, err = p.deps.Voice.Synthesize(gctx, filepath.Join(workDir, "audio"), req.Narration, req.Voice)
		if err != nil {
			return &types.PipelineError{Stage: types.FailSynthesis, Err: err}
		}
		t.update(types.StageVoice, 45, "Voice narration complete")
		return nil
	})
	g.Go(func() error {
		t.update(types.StageVisuals, 55, "Sourcing scene visuals...")
		var err error
		assets, err = p.sourceVisuals(gctx, workDir, req)
		if err != nil {
			return err
		}
		t.update(types.StageVisuals, 65, fmt.Sprintf("Visuals ready for %d of %d scenes", len(assets), len(req.Scenes)))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	t.update(types.StageAssembly, 75, "Assembling video...")
	res, err := p.deps.Assembler.Assemble(ctx, render.Job{
		Audio:          *track,
		Scenes:         req.Scenes,
		Assets:         assets,
		Title:          req.Title,
		TargetDuration: req.TargetDuration,
		WorkDir:        filepath.Join(workDir, "render"),
	})
	if err != nil {
		return nil, &types.PipelineError{Stage: types.FailAssembly, Err: err}
	}
	t.update(types.StageAssembly, 85, "Video encoded")

	t.update(types.StageFinalize, 90, "Finalizing video")
	res.MeasuredDurationSeconds = tools.Measure(ctx, p.deps.Prober, res.Path, p.expectedDuration(req, track))

	log.Info().Str("path", res.Path).Float64("seconds", res.MeasuredDurationSeconds).
		Int64("bytes", res.SizeBytes).Dur("took", time.Since(start)).Msg("[pipeline] ✅ run complete")
	return res, nil
}

// normalize fills defaults and rejects requests that cannot be rendered
func (p *Pipeline) normalize(req Request) (Request, error) {
	if req.Voice == "" {
		req.Voice = types.VoiceMale
	}
	if _, err := audio.FilterFor(req.Voice); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Mode == "" {
		req.Mode = types.VisualMode(p.cfg.Visuals.Mode)
	}
	switch req.Mode {
	case types.ModeStockFootage, types.ModeTemplateImage, types.ModeGenerative:
	default:
		return req, fmt.Errorf("%w: unknown visual mode %q", ErrInvalidRequest, req.Mode)
	}
	if req.TargetDuration < 0 {
		return req, fmt.Errorf("%w: negative target duration", ErrInvalidRequest)
	}
	if err := types.ValidateScenes(req.Scenes); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Scenes = types.SortScenes(req.Scenes)

	if strings.TrimSpace(req.Narration) == "" {
		parts := make([]string, 0, len(req.Scenes))
		for _, s := range req.Scenes {
			parts = append(parts, s.Narration)
		}
		req.Narration = strings.Join(parts, " ")
	}
	return req, nil
}

// sourceVisuals applies the fallback policy: stock, then templates, then nothing
// (the assembler renders a title card). Only an explicit template request that
// fails aborts the run.
func (p *Pipeline) sourceVisuals(ctx context.Context, workDir string, req Request) (types.AssetSet, error) {
	if req.Mode == types.ModeTemplateImage {
		images, err := p.deps.Templates.SelectImages(ctx, workDir, req.Scenes)
		if err != nil {
			return nil, &types.PipelineError{Stage: types.FailSourcing, Err: err}
		}
		return types.NewAssetSet(images), nil
	}

	clips, err := p.deps.Stock.FetchClips(ctx, workDir, req.Scenes, visuals.TopicContext{Topic: req.Topic, SubTopic: req.SubTopic})
	if ctx.Err() != nil {
		return nil, &types.PipelineError{Stage: types.FailSourcing, Err: ctx.Err()}
	}
	if err != nil || len(clips) == 0 {
		log.Warn().Err(err).Msg("[pipeline] ⚠️  no stock footage, falling back to template images")
		images, err := p.deps.Templates.SelectImages(ctx, workDir, req.Scenes)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &types.PipelineError{Stage: types.FailSourcing, Err: ctx.Err()}
			}
			log.Warn().Err(err).Msg("[pipeline] ⚠️  template images failed, falling back to title card")
			return types.AssetSet{}, nil
		}
		return types.NewAssetSet(images), nil
	}

	set := types.NewAssetSet(clips)
	for _, scene := range set.Missing(req.Scenes) {
		img, err := p.deps.Templates.SelectImage(ctx, workDir, scene)
		if err != nil {
			log.Warn().Err(err).Int("scene", scene.SceneNumber).Msg("[pipeline] ⚠️  no substitute image, scene will be a solid colour")
			continue
		}
		set[scene.SceneNumber] = img
	}
	return set, nil
}

// expectedDuration is the best guess used when the output cannot be probed
func (p *Pipeline) expectedDuration(req Request, track *types.AudioTrack) float64 {
	if req.TargetDuration > 0 {
		return req.TargetDuration
	}
	var total float64
	for _, s := range req.Scenes {
		total += s.Duration
	}
	if total > 0 {
		return total
	}
	return track.DurationHint
}
