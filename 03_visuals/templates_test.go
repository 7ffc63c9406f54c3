package visuals

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"news-video-pipeline/config"
	"news-video-pipeline/types"
)

// recordingEncoder writes its output argument and remembers every call
type recordingEncoder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingEncoder) Encode(ctx context.Context, args ...string) error {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.mu.Unlock()
	return os.WriteFile(args[len(args)-1], []byte("jpeg"), 0644)
}

// deadlineEncoder records how long each call was allowed to run
type deadlineEncoder struct {
	left []time.Duration
}

func (d *deadlineEncoder) Encode(ctx context.Context, args ...string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		d.left = append(d.left, -1)
	} else {
		d.left = append(d.left, time.Until(deadline))
	}
	return os.WriteFile(args[len(args)-1], []byte("jpeg"), 0644)
}

func TestSelectImageBoundsEncode(t *testing.T) {
	enc := &deadlineEncoder{}
	sel := NewTemplateSelector(config.VisualsConfig{
		TemplatesDir: templateDir(t, CategoryGeneric),
		Width:        1280,
		Height:       720,
		ImageTimeout: 7,
	}, enc)

	if _, err := sel.SelectImage(context.Background(), t.TempDir(), types.Scene{SceneNumber: 1, VisualDescription: "city street"}); err != nil {
		t.Fatalf("SelectImage: %v", err)
	}
	if len(enc.left) != 1 || enc.left[0] <= 0 || enc.left[0] > 7*time.Second {
		t.Fatalf("encode ran with %v left, want a deadline within 7s", enc.left)
	}

	// an unset timeout still gets the default bound
	enc = &deadlineEncoder{}
	sel = NewTemplateSelector(config.VisualsConfig{TemplatesDir: templateDir(t, CategoryGeneric), Width: 1280, Height: 720}, enc)
	if _, err := sel.SelectImage(context.Background(), t.TempDir(), types.Scene{SceneNumber: 2, VisualDescription: "city street"}); err != nil {
		t.Fatalf("SelectImage: %v", err)
	}
	if len(enc.left) != 1 || enc.left[0] <= 0 {
		t.Fatalf("encode ran without a deadline: %v", enc.left)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		description string
		want        Category
	}{
		{"Troops crossing a river", CategoryMilitary},
		{"Defense ministry briefing on quantum radar", CategoryMilitary},
		{"A digital map of the city", CategoryTechnology},
		{"Wildlife in the forest", CategoryNature},
		{"Congress in session", CategoryGovernment},
		{"Laboratory bench with samples", CategoryScience},
		{"A busy warehouse floor", CategoryMilitary},
		{"Sunset over the harbor", CategoryGeneric},
	}
	for _, tt := range tests {
		if got := Classify(tt.description); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.description, got, tt.want)
		}
	}
}

func templateDir(t *testing.T, categories ...Category) string {
	t.Helper()
	dir := t.TempDir()
	for _, c := range categories {
		if err := os.WriteFile(filepath.Join(dir, c.String()+".jpg"), []byte("jpeg"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestSelectImages(t *testing.T) {
	enc := &recordingEncoder{}
	sel := NewTemplateSelector(config.VisualsConfig{
		TemplatesDir: templateDir(t, CategoryMilitary, CategoryGeneric),
		Width:        1280,
		Height:       720,
	}, enc)

	scenes := []types.Scene{
		{SceneNumber: 2, VisualDescription: "city street at night"},
		{SceneNumber: 1, VisualDescription: "troops marching"},
	}
	images, err := sel.SelectImages(context.Background(), t.TempDir(), scenes)
	if err != nil {
		t.Fatalf("SelectImages: %v", err)
	}
	if len(images) != 2 || images[0].SceneNumber != 1 || images[1].SceneNumber != 2 {
		t.Fatalf("unexpected images: %+v", images)
	}
	if !strings.HasSuffix(enc.calls[0][2], "military.jpg") || !strings.HasSuffix(enc.calls[1][2], "generic.jpg") {
		t.Fatalf("wrong templates used: %v", enc.calls)
	}
	args := strings.Join(enc.calls[0], " ")
	if !strings.Contains(args, "scale=1280:720:force_original_aspect_ratio=increase,crop=1280:720 -q:v 2 -update 1") {
		t.Fatalf("unexpected args: %s", args)
	}
	for _, img := range images {
		if img.Kind != types.AssetTemplateImage {
			t.Errorf("scene %d kind = %s", img.SceneNumber, img.Kind)
		}
	}
}

func TestSelectImagesMissingTemplate(t *testing.T) {
	work := t.TempDir()
	sel := NewTemplateSelector(config.VisualsConfig{TemplatesDir: templateDir(t, CategoryGeneric), Width: 1280, Height: 720}, &recordingEncoder{})

	scenes := []types.Scene{
		{SceneNumber: 1, VisualDescription: "harbor"},
		{SceneNumber: 2, VisualDescription: "quantum chip close-up"},
		{SceneNumber: 3, VisualDescription: "harbor again"},
	}
	_, err := sel.SelectImages(context.Background(), work, scenes)

	var imgErr *types.ImageGenerationError
	if !errors.As(err, &imgErr) || imgErr.SceneNumber != 2 {
		t.Fatalf("expected ImageGenerationError for scene 2, got %v", err)
	}
	if !errors.Is(err, types.ErrImageGeneration) {
		t.Fatal("error should match ErrImageGeneration")
	}
	if entries, _ := os.ReadDir(filepath.Join(work, "images")); len(entries) != 0 {
		t.Fatalf("earlier images not cleaned up: %v", entries)
	}
}

func TestSelectImagesEmpty(t *testing.T) {
	sel := NewTemplateSelector(config.VisualsConfig{TemplatesDir: t.TempDir()}, &recordingEncoder{})
	if _, err := sel.SelectImages(context.Background(), t.TempDir(), nil); !errors.Is(err, types.ErrNoImagesGenerated) {
		t.Fatalf("expected ErrNoImagesGenerated, got %v", err)
	}
}

func TestRejectGenerative(t *testing.T) {
	if _, err := RejectGenerative(context.Background(), scenesFor("alpha")); !errors.Is(err, types.ErrGenerativeUnsupported) {
		t.Fatalf("expected ErrGenerativeUnsupported, got %v", err)
	}
}
