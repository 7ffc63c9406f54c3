package visuals

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"news-video-pipeline/config"
	"news-video-pipeline/types"
)

// StockFetcher finds and downloads one stock clip per scene
type StockFetcher struct {
	searcher   ClipSearcher
	downloader Downloader
	ranker     Ranker
	perPage    int
	workers    int
}

// NewStockFetcher wires a fetcher from stock settings
func NewStockFetcher(cfg config.StockConfig, searcher ClipSearcher, downloader Downloader) *StockFetcher {
	return &StockFetcher{
		searcher:   searcher,
		downloader: downloader,
		ranker: Ranker{
			MinDuration: cfg.MinDurationSec,
			MaxDuration: cfg.MaxDurationSec,
			HDWidth:     cfg.HDWidth,
		},
		perPage: cfg.PerPage,
		workers: cfg.Workers,
	}
}

// FetchClips returns clips for the scenes it could source, sorted by scene number.
// A scene that fails is logged and skipped. Only a missing API key or a
// cancelled context fails the whole batch.
func (f *StockFetcher) FetchClips(ctx context.Context, workDir string, scenes []types.Scene, topic TopicContext) ([]types.VisualAsset, error) {
	dir := filepath.Join(workDir, "videos")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create clip dir: %v", types.ErrSourcing, err)
	}
	log.Info().Str("topic", topic.Topic).Str("sub_topic", topic.SubTopic).
		Msgf("[visuals] Searching stock footage for %d scenes...", len(scenes))

	var (
		mu    sync.Mutex
		clips []types.VisualAsset
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(f.workers, 1))

	for _, scene := range scenes {
		g.Go(func() error {
			clip, err := f.fetchOne(gctx, dir, scene, topic)
			switch {
			case err == nil:
				mu.Lock()
				clips = append(clips, clip)
				mu.Unlock()
				return nil
			case errors.Is(err, ErrNoAPIKey), gctx.Err() != nil:
				return err
			default:
				log.Warn().Err(fmt.Errorf("%w: %v", types.ErrSourcing, err)).Int("scene", scene.SceneNumber).
					Msg("[visuals] ⚠️  no clip for scene, continuing")
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range clips {
			os.Remove(c.Path)
		}
		return nil, fmt.Errorf("%w: %w", types.ErrSourcing, err)
	}

	sort.Slice(clips, func(i, j int) bool { return clips[i].SceneNumber < clips[j].SceneNumber })
	log.Info().Msgf("[visuals] ✅ %d/%d scenes have stock footage", len(clips), len(scenes))
	return clips, nil
}

func (f *StockFetcher) fetchOne(ctx context.Context, dir string, scene types.Scene, topic TopicContext) (types.VisualAsset, error) {
	query := BuildQuery(scene.VisualDescription, topic)
	log.Debug().Int("scene", scene.SceneNumber).Str("query", query).Msg("[visuals] search")

	candidates, err := f.searcher.SearchClips(ctx, query, f.perPage)
	if err != nil {
		return types.VisualAsset{}, fmt.Errorf("search %q: %w", query, err)
	}
	best, score, ok := f.ranker.Best(candidates)
	if !ok {
		return types.VisualAsset{}, fmt.Errorf("no videos found for %q", query)
	}
	file, ok := PickRendition(best)
	if !ok {
		return types.VisualAsset{}, fmt.Errorf("video %d has no downloadable files", best.ID)
	}

	dest := filepath.Join(dir, fmt.Sprintf("pexels_scene_%d_%s.mp4", scene.SceneNumber, uuid.NewString()[:8]))
	if err := f.downloader.Download(ctx, file.Link, dest); err != nil {
		return types.VisualAsset{}, fmt.Errorf("download video %d: %w", best.ID, err)
	}
	log.Info().Int("scene", scene.SceneNumber).Int("score", score).Float64("duration", best.Duration).
		Int("width", file.Width).Msg("[visuals] clip selected")
	return types.NewStockClip(dest, scene.SceneNumber, best.Duration), nil
}
