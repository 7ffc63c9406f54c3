package visuals

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"news-video-pipeline/01_tools"
	"news-video-pipeline/config"
	"news-video-pipeline/types"
)

// Category picks the template image for a scene
type Category int

const (
	CategoryGeneric Category = iota
	CategoryMilitary
	CategoryTechnology
	CategoryNature
	CategoryGovernment
	CategoryScience
)

func (c Category) String() string {
	switch c {
	case CategoryMilitary:
		return "military"
	case CategoryTechnology:
		return "technology"
	case CategoryNature:
		return "nature"
	case CategoryGovernment:
		return "government"
	case CategoryScience:
		return "science"
	default:
		return "generic"
	}
}

// checked in this order; the first category with a matching keyword wins
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryMilitary, []string{"military", "defense", "war", "troop"}},
	{CategoryTechnology, []string{"technology", "computer", "digital", "quantum"}},
	{CategoryNature, []string{"nature", "environment", "forest", "wildlife"}},
	{CategoryGovernment, []string{"government", "congress", "politics", "legislation"}},
	{CategoryScience, []string{"science", "research", "laboratory", "discovery"}},
}

// Classify matches keywords as substrings of the lowercased description,
// so "warehouse" counts as military.
func Classify(description string) Category {
	d := strings.ToLower(description)
	for _, ck := range categoryKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(d, kw) {
				return ck.category
			}
		}
	}
	return CategoryGeneric
}

// TemplateSelector normalizes a category template image for each scene
type TemplateSelector struct {
	encoder tools.Encoder
	dir     string
	width   int
	height  int
	timeout time.Duration
}

// NewTemplateSelector creates a selector reading <templates_dir>/<category>.jpg
func NewTemplateSelector(cfg config.VisualsConfig, encoder tools.Encoder) *TemplateSelector {
	timeout := time.Duration(cfg.ImageTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TemplateSelector{encoder: encoder, dir: cfg.TemplatesDir, width: cfg.Width, height: cfg.Height, timeout: timeout}
}

// TemplatePath is the source image for a category
func (t *TemplateSelector) TemplatePath(c Category) string {
	return filepath.Join(t.dir, c.String()+".jpg")
}

// SelectImages produces one image per scene in scene order and stops at the first failure
func (t *TemplateSelector) SelectImages(ctx context.Context, workDir string, scenes []types.Scene) ([]types.VisualAsset, error) {
	if len(scenes) == 0 {
		return nil, types.ErrNoImagesGenerated
	}
	log.Info().Msgf("[visuals] Preparing %d template images...", len(scenes))

	images := make([]types.VisualAsset, 0, len(scenes))
	for _, scene := range types.SortScenes(scenes) {
		img, err := t.SelectImage(ctx, workDir, scene)
		if err != nil {
			for _, done := range images {
				os.Remove(done.Path)
			}
			return nil, err
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, types.ErrNoImagesGenerated
	}
	log.Info().Msgf("[visuals] ✅ %d template images ready", len(images))
	return images, nil
}

// SelectImage prepares the template image for a single scene
func (t *TemplateSelector) SelectImage(ctx context.Context, workDir string, scene types.Scene) (types.VisualAsset, error) {
	category := Classify(scene.VisualDescription)
	src := t.TemplatePath(category)
	if _, err := os.Stat(src); err != nil {
		return types.VisualAsset{}, &types.ImageGenerationError{SceneNumber: scene.SceneNumber, Err: fmt.Errorf("template %s: %w", src, err)}
	}

	dir := filepath.Join(workDir, "images")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return types.VisualAsset{}, &types.ImageGenerationError{SceneNumber: scene.SceneNumber, Err: err}
	}
	out := filepath.Join(dir, fmt.Sprintf("template_scene_%d.jpg", scene.SceneNumber))

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	err := t.encoder.Encode(ctx,
		"-y",
		"-i", src,
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", t.width, t.height, t.width, t.height),
		"-q:v", "2",
		"-update", "1",
		out,
	)
	if err != nil {
		os.Remove(out)
		return types.VisualAsset{}, &types.ImageGenerationError{SceneNumber: scene.SceneNumber, Err: err}
	}
	log.Debug().Int("scene", scene.SceneNumber).Str("category", category.String()).Msg("[visuals] template image ready")
	return types.NewTemplateImage(out, scene.SceneNumber), nil
}

// RejectGenerative is the generative mode; it is not supported
func RejectGenerative(context.Context, []types.Scene) ([]types.VisualAsset, error) {
	return nil, types.ErrGenerativeUnsupported
}
