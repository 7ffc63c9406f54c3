package render

import (
	"fmt"
	"sort"
	"strings"

	"news-video-pipeline/types"
)

// frame describes the output geometry shared by every segment
type frame struct {
	width, height, fps int
	color              string
	crf                int
}

func (f frame) size() string { return fmt.Sprintf("%dx%d", f.width, f.height) }

// fitFilter letterboxes any input into the output frame
func (f frame) fitFilter() string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		f.width, f.height, f.width, f.height)
}

func (f frame) colorSource(d float64) string {
	return fmt.Sprintf("color=c=%s:s=%s:r=%d:d=%s", f.color, f.size(), f.fps, secs(d))
}

// SceneDurations resolves the on-screen time of every scene. A scene without a
// positive duration gets an equal share of target, or minSec when there is no target.
func SceneDurations(scenes []types.Scene, target, minSec float64) []float64 {
	out := make([]float64, len(scenes))
	for i, s := range scenes {
		d := s.Duration
		if d <= 0 && target > 0 && len(scenes) > 0 {
			d = target / float64(len(scenes))
		}
		if d <= 0 {
			d = minSec
		}
		out[i] = d
	}
	return out
}

// segmentArgs normalizes one scene's visual into a silent clip of exactly d seconds
func (f frame) segmentArgs(asset *types.VisualAsset, d float64, out string) []string {
	args := []string{"-y"}
	switch {
	case asset == nil:
		args = append(args, "-f", "lavfi", "-i", f.colorSource(d))
	case asset.Kind == types.AssetTemplateImage:
		args = append(args, "-loop", "1", "-i", asset.Path)
	case asset.SourceDuration > 0 && asset.SourceDuration < d:
		args = append(args, "-stream_loop", "-1", "-i", asset.Path)
	default:
		args = append(args, "-i", asset.Path)
	}
	return append(args,
		"-t", secs(d),
		"-vf", f.fitFilter()+fmt.Sprintf(",fps=%d", f.fps),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", fmt.Sprint(f.crf),
		"-pix_fmt", "yuv420p",
		"-an",
		out,
	)
}

// Manifest renders a concat demuxer list ordered by scene number
func Manifest(segments map[int]string) string {
	numbers := make([]int, 0, len(segments))
	for n := range segments {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	var b strings.Builder
	for _, n := range numbers {
		fmt.Fprintf(&b, "file '%s'\n", escapeQuote(segments[n]))
	}
	return b.String()
}

// escapeQuote closes the quoted string, emits an escaped quote and reopens it
func escapeQuote(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// fades clamp to half the scene so fade in and fade out never overlap
func fades(d, fade float64) (length, outStart float64) {
	length = fade
	if length > d/2 {
		length = d / 2
	}
	return length, d - length
}

// slideshowArgs builds a single filter-graph encode for still images
func (f frame) slideshowArgs(scenes []types.Scene, durs []float64, assets types.AssetSet, fade float64, audio, bitrate, out string) []string {
	args := []string{"-y"}
	var graph []string
	var labels strings.Builder

	for i, s := range scenes {
		d := durs[i]
		if a, ok := assets[s.SceneNumber]; ok && a.Kind == types.AssetTemplateImage {
			args = append(args, "-loop", "1", "-i", a.Path)
		} else {
			args = append(args, "-f", "lavfi", "-i", f.colorSource(d))
		}
		stage := fmt.Sprintf("[%d:v]%s,setpts=PTS-STARTPTS,trim=duration=%s", i, f.fitFilter(), secs(d))
		// ffmpeg reads d=0 as "use the default", so no fade means no fade filter
		if fade > 0 {
			fl, outAt := fades(d, fade)
			stage += fmt.Sprintf(",fade=t=in:st=0:d=%s,fade=t=out:st=%s:d=%s", secs(fl), secs(outAt), secs(fl))
		}
		graph = append(graph, fmt.Sprintf("%s[v%d]", stage, i))
		fmt.Fprintf(&labels, "[v%d]", i)
	}
	n := len(scenes)
	graph = append(graph, fmt.Sprintf("%sconcat=n=%d:v=1:a=0[outv]", labels.String(), n))

	return append(args,
		"-i", audio,
		"-filter_complex", strings.Join(graph, ";"),
		"-map", "[outv]",
		"-map", fmt.Sprintf("%d:a", n),
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", fmt.Sprint(f.crf),
		"-c:a", "aac",
		"-b:a", bitrate,
		"-pix_fmt", "yuv420p",
		"-shortest",
		out,
	)
}

// secs formats seconds for ffmpeg without trailing zeros
func secs(v float64) string {
	s := strings.TrimRight(fmt.Sprintf("%.3f", v), "0")
	return strings.TrimSuffix(s, ".")
}
