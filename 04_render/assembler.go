package render

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"news-video-pipeline/01_tools"
	"news-video-pipeline/config"
	"news-video-pipeline/types"
)

// Mode is the assembly strategy, picked from the assets on hand
type Mode int

const (
	ModeClips  Mode = iota // A: per-scene clips joined by the concat demuxer
	ModeImages             // B: stills through one filter graph with fades
	ModeTitle              // C: a single title card under the narration
)

func (m Mode) String() string {
	switch m {
	case ModeClips:
		return "A/clips"
	case ModeImages:
		return "B/images"
	default:
		return "C/title"
	}
}

// SelectMode prefers clips, then images, then the title card
func SelectMode(assets types.AssetSet) Mode {
	switch {
	case assets.Count(types.AssetStockClip) > 0:
		return ModeClips
	case assets.Count(types.AssetTemplateImage) > 0:
		return ModeImages
	default:
		return ModeTitle
	}
}

// Job is everything one assembly needs
type Job struct {
	Audio          types.AudioTrack
	Scenes         []types.Scene
	Assets         types.AssetSet
	Title          string
	TargetDuration float64
	WorkDir        string // per-run scratch space for segments and manifests
}

// Assembler encodes the final video
type Assembler struct {
	encoder   tools.Encoder
	cfg       config.RenderConfig
	outputDir string
	fadeSec   float64
	frame     frame
	title     TitleFrame
}

// NewAssembler wires an Assembler from config
func NewAssembler(cfg *config.Config, encoder tools.Encoder) *Assembler {
	bg, err := ParseColor(cfg.Visuals.FallbackColor)
	if err != nil {
		log.Warn().Err(err).Msg("[render] ⚠️  bad fallback_color, using default")
		bg, _ = ParseColor(config.Default().Visuals.FallbackColor)
	}
	return &Assembler{
		encoder:   encoder,
		cfg:       cfg.Render,
		outputDir: cfg.Paths.Output,
		fadeSec:   cfg.Visuals.FadeSec,
		frame: frame{
			width:  cfg.Visuals.Width,
			height: cfg.Visuals.Height,
			fps:    cfg.Visuals.FPS,
			color:  cfg.Visuals.FallbackColor,
			crf:    cfg.Render.CRF,
		},
		title: TitleFrame{
			Width:      cfg.Visuals.Width,
			Height:     cfg.Visuals.Height,
			Background: bg,
			Foreground: color.White,
			Font:       cfg.Visuals.TitleFont,
		},
	}
}

// Assemble writes <output>/video_<id>.mp4. Nothing is left at the output path on failure.
func (a *Assembler) Assemble(ctx context.Context, job Job) (*types.MediaResult, error) {
	if err := os.MkdirAll(a.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", types.ErrAssemblyFailed, err)
	}
	if err := os.MkdirAll(job.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create work dir: %v", types.ErrAssemblyFailed, err)
	}

	scenes := types.SortScenes(job.Scenes)
	durs := SceneDurations(scenes, job.TargetDuration, a.cfg.MinSceneSec)
	out := filepath.Join(a.outputDir, fmt.Sprintf("video_%s.mp4", uuid.NewString()))
	mode := SelectMode(job.Assets)
	if len(scenes) == 0 {
		mode = ModeTitle
	}

	log.Info().Str("mode", mode.String()).Int("scenes", len(scenes)).Msg("[render] Starting final video assembly...")

	var err error
	switch mode {
	case ModeClips:
		err = a.assembleClips(ctx, job, scenes, durs, out)
	case ModeImages:
		err = a.assembleImages(ctx, job, scenes, durs, out)
	default:
		err = a.assembleTitle(ctx, job, len(scenes), out)
	}
	if err == nil {
		err = nonEmpty(out)
	}
	if err != nil {
		os.Remove(out)
		return nil, err
	}

	info, err := os.Stat(out)
	if err != nil {
		os.Remove(out)
		return nil, fmt.Errorf("%w: %v", types.ErrAssemblyFailed, err)
	}
	log.Info().Str("path", out).Int64("bytes", info.Size()).Msg("[render] ✅ Final video ready")
	return &types.MediaResult{Path: out, SizeBytes: info.Size()}, nil
}

// finalTimeout grows with the scene count
func (a *Assembler) finalTimeout(scenes int) time.Duration {
	return time.Duration(a.cfg.AssemblyTimeoutSec+a.cfg.PerSceneTimeoutSec*scenes) * time.Second
}

func (a *Assembler) assembleClips(ctx context.Context, job Job, scenes []types.Scene, durs []float64, out string) error {
	segDir := filepath.Join(job.WorkDir, "segments")
	if err := os.MkdirAll(segDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", types.ErrAssemblyFailed, err)
	}

	var mu sync.Mutex
	segments := make(map[int]string, len(scenes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.cfg.Workers, 1))
	for i, scene := range scenes {
		d := durs[i]
		g.Go(func() error {
			path, err := a.segment(gctx, segDir, scene, job.Assets, d)
			if err != nil {
				return &types.ClipProcessingError{SceneNumber: scene.SceneNumber, Err: err}
			}
			mu.Lock()
			segments[scene.SceneNumber] = path
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	manifest := filepath.Join(job.WorkDir, "concat.txt")
	if err := os.WriteFile(manifest, []byte(Manifest(segments)), 0644); err != nil {
		return fmt.Errorf("%w: write manifest: %v", types.ErrAssemblyFailed, err)
	}

	log.Info().Msgf("[render] Concatenating %d segments and adding narration...", len(segments))
	ctx, cancel := context.WithTimeout(ctx, a.finalTimeout(len(scenes)))
	defer cancel()
	err := a.encoder.Encode(ctx,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-i", job.Audio.Path,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", a.cfg.AudioBitrate,
		"-shortest",
		"-movflags", "+faststart", // optimize for web streaming
		out,
	)
	if err != nil {
		return fmt.Errorf("%w: concat: %v", types.ErrAssemblyFailed, err)
	}
	return nil
}

// segment encodes one scene; scenes without a usable asset become solid colour
func (a *Assembler) segment(ctx context.Context, dir string, scene types.Scene, assets types.AssetSet, d float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.ClipTimeoutSec)*time.Second)
	defer cancel()

	var asset *types.VisualAsset
	if v, ok := assets[scene.SceneNumber]; ok {
		asset = &v
	}
	out := filepath.Join(dir, fmt.Sprintf("segment_%03d.mp4", scene.SceneNumber))

	if err := a.encoder.Encode(ctx, a.frame.segmentArgs(asset, d, out)...); err != nil {
		os.Remove(out)
		return "", err
	}
	if err := nonEmpty(out); err != nil {
		os.Remove(out)
		return "", err
	}
	source := "colour"
	if asset != nil {
		source = asset.Kind.String()
	}
	log.Debug().Int("scene", scene.SceneNumber).Str("source", source).Float64("seconds", d).Msg("[render] segment ready")
	return out, nil
}

func (a *Assembler) assembleImages(ctx context.Context, job Job, scenes []types.Scene, durs []float64, out string) error {
	ctx, cancel := context.WithTimeout(ctx, a.finalTimeout(len(scenes)))
	defer cancel()

	args := a.frame.slideshowArgs(scenes, durs, job.Assets, a.fadeSec, job.Audio.Path, a.cfg.AudioBitrate, out)
	if err := a.encoder.Encode(ctx, args...); err != nil {
		return fmt.Errorf("%w: slideshow: %v", types.ErrAssemblyFailed, err)
	}
	return nil
}

func (a *Assembler) assembleTitle(ctx context.Context, job Job, scenes int, out string) error {
	bg := filepath.Join(job.WorkDir, "title_bg.png")
	if err := a.title.WriteFile(bg, job.Title); err != nil {
		return fmt.Errorf("%w: title frame: %v", types.ErrAssemblyFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.finalTimeout(scenes))
	defer cancel()
	err := a.encoder.Encode(ctx,
		"-y",
		"-loop", "1",
		"-i", bg,
		"-i", job.Audio.Path,
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-c:a", "aac",
		"-b:a", a.cfg.AudioBitrate,
		"-pix_fmt", "yuv420p",
		"-shortest",
		out,
	)
	if err != nil {
		return fmt.Errorf("%w: title card: %v", types.ErrAssemblyFailed, err)
	}
	return nil
}

func nonEmpty(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: output missing: %v", types.ErrAssemblyFailed, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: output %s is empty", types.ErrAssemblyFailed, filepath.Base(path))
	}
	return nil
}
