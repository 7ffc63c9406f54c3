package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"news-video-pipeline/02_audio"
	"news-video-pipeline/03_visuals"
	"news-video-pipeline/04_render"
	"news-video-pipeline/config"
	"news-video-pipeline/types"
)

type fakeResolver struct{ err error }

func (f fakeResolver) Resolve(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "/usr/bin/ffmpeg", nil
}

type countingEngine struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *countingEngine) Synthesize(ctx context.Context, text, outPath string) error {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	return os.WriteFile(outPath, []byte("ID3"), 0644)
}

// recorder stands in for ffmpeg: it writes the output argument and keeps
// every call plus the last concat manifest it was handed.
type recorder struct {
	mu       sync.Mutex
	calls    [][]string
	manifest string
}

func (r *recorder) Encode(ctx context.Context, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, args)
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-i" && strings.HasSuffix(args[i+1], "concat.txt") {
			data, _ := os.ReadFile(args[i+1])
			r.manifest = string(data)
		}
	}
	return os.WriteFile(args[len(args)-1], []byte("media"), 0644)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) callFor(suffix string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if strings.HasSuffix(c[len(c)-1], suffix) {
			return strings.Join(c, " ")
		}
	}
	return ""
}

type fixedProber struct{ d float64 }

func (p fixedProber) Probe(ctx context.Context, path string) (float64, error) { return p.d, nil }

type stubSearcher struct{ err error }

func (s stubSearcher) SearchClips(ctx context.Context, query string, perPage int) ([]visuals.Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []visuals.Candidate{{ID: 9, Duration: 12, Renditions: []visuals.Rendition{{Width: 1280, Link: "https://cdn.example/9.mp4"}}}}, nil
}

// stubDownloader fails for the scene numbers in fail
type stubDownloader struct{ fail map[int]bool }

func (d stubDownloader) Download(ctx context.Context, url, dest string) error {
	for n := range d.fail {
		if strings.Contains(filepath.Base(dest), fmt.Sprintf("pexels_scene_%d_", n)) {
			return errors.New("HTTP 404 downloading clip")
		}
	}
	return os.WriteFile(dest, []byte("mp4"), 0644)
}

type harness struct {
	cfg    *config.Config
	enc    *recorder
	engine *countingEngine
	p      *Pipeline
}

type harnessOpts struct {
	toolErr     error
	searchErr   error
	failScenes  map[int]bool
	templates   []visuals.Category
	engineErr   error
	probeResult float64
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Temp = t.TempDir()
	cfg.Paths.Output = t.TempDir()
	cfg.Visuals.TitleFont = filepath.Join(t.TempDir(), "none.ttf")
	cfg.Visuals.TemplatesDir = t.TempDir()
	for _, c := range o.templates {
		if err := os.WriteFile(filepath.Join(cfg.Visuals.TemplatesDir, c.String()+".jpg"), []byte("jpeg"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if o.probeResult == 0 {
		o.probeResult = 15.2
	}

	h := &harness{cfg: cfg, enc: &recorder{}, engine: &countingEngine{err: o.engineErr}}
	prober := fixedProber{d: o.probeResult}
	h.p = NewWithDeps(cfg, Deps{
		Tools:     fakeResolver{err: o.toolErr},
		Voice:     audio.NewSynthesizer(cfg.Audio, h.engine, h.enc, prober),
		Stock:     visuals.NewStockFetcher(cfg.Stock, stubSearcher{err: o.searchErr}, stubDownloader{fail: o.failScenes}),
		Templates: visuals.NewTemplateSelector(cfg.Visuals, h.enc),
		Assembler: render.NewAssembler(cfg, h.enc),
		Prober:    prober,
	})
	return h
}

func threeScenes() []types.Scene {
	return []types.Scene{
		{SceneNumber: 1, Narration: "Chips are shrinking.", VisualDescription: "Close-up of a processor", Duration: 5},
		{SceneNumber: 2, Narration: "Labs race ahead.", VisualDescription: "Harbor at dawn", Duration: 5},
		{SceneNumber: 3, Narration: "Markets react.", VisualDescription: "Trading floor screens", Duration: 5},
	}
}

func stockRequest() Request {
	return Request{
		Title:          "Quantum Leap",
		Scenes:         threeScenes(),
		Voice:          types.VoiceFemale,
		Mode:           types.ModeStockFootage,
		TargetDuration: 15,
		Topic:          "Technology",
		SubTopic:       "Quantum Computing",
	}
}

func manifestSegments(t *testing.T, manifest string) []string {
	t.Helper()
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(manifest), "\n") {
		out = append(out, strings.TrimSuffix(filepath.Base(line), "'"))
	}
	return out
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("%s not empty: %v", dir, entries)
	}
}

func TestRunStockFootageAllScenes(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	res, err := h.p.Run(context.Background(), stockRequest(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if math.Abs(res.MeasuredDurationSeconds-15) > 2 {
		t.Errorf("measured %v, want about 15", res.MeasuredDurationSeconds)
	}
	if res.SizeBytes == 0 {
		t.Error("empty result")
	}
	got := manifestSegments(t, h.enc.manifest)
	want := []string{"segment_001.mp4", "segment_002.mp4", "segment_003.mp4"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("manifest = %v, want %v", got, want)
	}
	for _, seg := range want {
		if args := h.enc.callFor(seg); !strings.Contains(args, "pexels_scene_") {
			t.Errorf("%s not built from a stock clip: %s", seg, args)
		}
	}
	assertEmptyDir(t, h.cfg.Paths.Temp)
}

func TestRunStockFootageSubstitutesFailedScene(t *testing.T) {
	t.Run("template substitute", func(t *testing.T) {
		h := newHarness(t, harnessOpts{failScenes: map[int]bool{2: true}, templates: []visuals.Category{visuals.CategoryGeneric}})
		if _, err := h.p.Run(context.Background(), stockRequest(), nil); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if n := len(manifestSegments(t, h.enc.manifest)); n != 3 {
			t.Fatalf("manifest has %d segments, want 3", n)
		}
		if args := h.enc.callFor("segment_002.mp4"); !strings.Contains(args, "-loop 1 -i") || !strings.Contains(args, "template_scene_2.jpg") {
			t.Fatalf("scene 2 not substituted by template: %s", args)
		}
		if args := h.enc.callFor("segment_001.mp4"); !strings.Contains(args, "pexels_scene_1_") {
			t.Fatalf("scene 1 should keep its clip: %s", args)
		}
	})

	t.Run("solid colour substitute", func(t *testing.T) {
		h := newHarness(t, harnessOpts{failScenes: map[int]bool{2: true}})
		if _, err := h.p.Run(context.Background(), stockRequest(), nil); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if n := len(manifestSegments(t, h.enc.manifest)); n != 3 {
			t.Fatalf("manifest has %d segments, want 3", n)
		}
		if args := h.enc.callFor("segment_002.mp4"); !strings.Contains(args, "-f lavfi -i color=c=0x1e40af") {
			t.Fatalf("scene 2 should be solid colour: %s", args)
		}
	})
}

func TestRunToolNotFoundFailsFast(t *testing.T) {
	h := newHarness(t, harnessOpts{toolErr: fmt.Errorf("%w: tried 4 strategies", types.ErrToolNotFound)})

	var updates []types.Progress
	_, err := h.p.Run(context.Background(), stockRequest(), func(p types.Progress) { updates = append(updates, p) })

	var pe *types.PipelineError
	if !errors.As(err, &pe) || pe.Stage != types.FailToolMissing || !errors.Is(err, types.ErrToolNotFound) {
		t.Fatalf("expected tool-missing PipelineError, got %v", err)
	}
	if h.engine.calls != 0 || h.enc.count() != 0 {
		t.Fatalf("work started anyway: %d engine calls, %d encodes", h.engine.calls, h.enc.count())
	}
	last := updates[len(updates)-1]
	if last.Stage != types.StageError || !strings.Contains(last.Message, "ffmpeg") {
		t.Fatalf("last progress = %+v", last)
	}
}

func TestRunTemplateModeMissingTemplate(t *testing.T) {
	h := newHarness(t, harnessOpts{templates: []visuals.Category{visuals.CategoryGeneric}})
	req := stockRequest()
	req.Mode = types.ModeTemplateImage
	req.Scenes[1].VisualDescription = "Quantum computer in a clean room"

	_, err := h.p.Run(context.Background(), req, nil)

	var pe *types.PipelineError
	if !errors.As(err, &pe) || pe.Stage != types.FailSourcing {
		t.Fatalf("expected sourcing PipelineError, got %v", err)
	}
	var imgErr *types.ImageGenerationError
	if !errors.As(err, &imgErr) || imgErr.SceneNumber != 2 {
		t.Fatalf("expected ImageGenerationError for scene 2, got %v", err)
	}
	assertEmptyDir(t, h.cfg.Paths.Output)
	assertEmptyDir(t, h.cfg.Paths.Temp)
}

func TestRunFallsBackToTitleCard(t *testing.T) {
	h := newHarness(t, harnessOpts{searchErr: visuals.ErrNoAPIKey})

	res, err := h.p.Run(context.Background(), stockRequest(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if args := h.enc.callFor(filepath.Base(res.Path)); !strings.Contains(args, "-tune stillimage") {
		t.Fatalf("expected title card encode, got %s", args)
	}
}

func TestRunFallsBackToTemplates(t *testing.T) {
	h := newHarness(t, harnessOpts{searchErr: visuals.ErrNoAPIKey, templates: []visuals.Category{visuals.CategoryGeneric, visuals.CategoryTechnology}})

	res, err := h.p.Run(context.Background(), stockRequest(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if args := h.enc.callFor(filepath.Base(res.Path)); !strings.Contains(args, "concat=n=3:v=1:a=0[outv]") {
		t.Fatalf("expected slideshow encode, got %s", args)
	}
}

func TestRunSynthesisFailure(t *testing.T) {
	h := newHarness(t, harnessOpts{engineErr: errors.New("edge-tts: exit status 1")})

	_, err := h.p.Run(context.Background(), stockRequest(), nil)
	var pe *types.PipelineError
	if !errors.As(err, &pe) || pe.Stage != types.FailSynthesis || !errors.Is(err, types.ErrSynthesisFailed) {
		t.Fatalf("expected synthesis PipelineError, got %v", err)
	}
	assertEmptyDir(t, h.cfg.Paths.Output)
}

func TestRunRejectsBadRequests(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	gen := stockRequest()
	gen.Mode = types.ModeGenerative
	if _, err := h.p.Run(context.Background(), gen, nil); !errors.Is(err, types.ErrGenerativeUnsupported) {
		t.Fatalf("generative: got %v", err)
	}

	bad := []Request{
		{Voice: "robot", Scenes: threeScenes()},
		{Mode: "slideshow", Scenes: threeScenes()},
		{Scenes: []types.Scene{{SceneNumber: 1}, {SceneNumber: 1}}},
	}
	for i, req := range bad {
		_, err := h.p.Run(context.Background(), req, nil)
		var pe *types.PipelineError
		if !errors.Is(err, ErrInvalidRequest) || !errors.As(err, &pe) || pe.Stage != types.FailRequest {
			t.Errorf("case %d: expected request-stage ErrInvalidRequest, got %v", i, err)
		}
	}
	if h.engine.calls != 0 {
		t.Fatal("rejected requests must not synthesize")
	}
}

func TestRunProgressIsMonotonic(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	var updates []types.Progress
	if _, err := h.p.Run(context.Background(), stockRequest(), func(p types.Progress) { updates = append(updates, p) }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if updates[0].Stage != types.StagePreparing || updates[0].Percent != 10 {
		t.Fatalf("first update = %+v", updates[0])
	}
	last := updates[len(updates)-1]
	if last.Stage != types.StageDone || last.Percent != 100 {
		t.Fatalf("last update = %+v", last)
	}
	for i := 1; i < len(updates); i++ {
		if updates[i].Percent < updates[i-1].Percent {
			t.Fatalf("progress went backwards at %d: %+v", i, updates)
		}
	}
}

func TestTrackerClampsAndReportsErrors(t *testing.T) {
	var got []types.Progress
	tr := newTracker(func(p types.Progress) { got = append(got, p) })
	tr.update(types.StageVisuals, 65, "visuals")
	tr.update(types.StageVoice, 25, "voice late")
	tr.fail(&types.PipelineError{Stage: types.FailAssembly, Err: errors.New("boom")})

	if got[1].Percent != 65 {
		t.Fatalf("late voice update reported %d", got[1].Percent)
	}
	if got[2].Stage != types.StageError || got[2].Percent != 65 || !strings.Contains(got[2].Message, "video assembly failed") {
		t.Fatalf("error update = %+v", got[2])
	}
}
