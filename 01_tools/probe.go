package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"news-video-pipeline/types"

	"github.com/rs/zerolog/log"
)

const probeTimeout = 30 * time.Second

// Prober reports the playable duration of a media file in seconds
type Prober interface {
	Probe(ctx context.Context, path string) (float64, error)
}

// FFprobe probes with the ffprobe that ships alongside the located ffmpeg
type FFprobe struct {
	locator *Locator
}

// NewFFprobe creates a Prober
func NewFFprobe(locator *Locator) *FFprobe {
	return &FFprobe{locator: locator}
}

// Probe runs ffprobe and parses format=duration
func (p *FFprobe) Probe(ctx context.Context, path string) (float64, error) {
	bin, err := p.locator.ProbePath(ctx)
	if err != nil {
		return 0, err
	}
	out, err := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseDuration(out)
}

func parseDuration(out []byte) (float64, error) {
	s := strings.TrimSpace(string(out))
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("non-positive duration %q", s)
	}
	return d, nil
}

// Measure returns the probed duration of path, or fallback when probing fails.
// Reported durations are advisory so a probe failure never fails a run.
func Measure(ctx context.Context, p Prober, path string, fallback float64) float64 {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	d, err := p.Probe(ctx, path)
	if err != nil {
		log.Warn().Err(fmt.Errorf("%w: %v", types.ErrDurationProbe, err)).
			Float64("fallback", fallback).Str("path", path).
			Msg("[tools] ⚠️  using requested duration as estimate")
		return fallback
	}
	return d
}
