package audio

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"news-video-pipeline/01_tools"
	"news-video-pipeline/config"
	"news-video-pipeline/types"
)

const (
	nominalRate = 44100
	speechTempo = 1.15
	// narration pace for the duration estimate, before the tempo boost
	wordsPerSecond = 2.5
)

var (
	stageDirections = regexp.MustCompile(`\[[^\]]*\]`)
	runsOfSpace     = regexp.MustCompile(`\s+`)
	stripTags       = bluemonday.StrictPolicy()
)

// Synthesizer turns narration into a voice-processed wav in two steps:
// the Engine writes raw speech, then ffmpeg applies the voice profile filter.
type Synthesizer struct {
	engine  Engine
	encoder tools.Encoder
	prober  tools.Prober
	timeout time.Duration
}

// NewSynthesizer wires a Synthesizer
func NewSynthesizer(cfg config.AudioConfig, engine Engine, encoder tools.Encoder, prober tools.Prober) *Synthesizer {
	return &Synthesizer{
		engine:  engine,
		encoder: encoder,
		prober:  prober,
		timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	}
}

// NormalizeText strips markup and bracketed stage directions and collapses whitespace
func NormalizeText(text string) string {
	t := stageDirections.ReplaceAllString(text, " ")
	t = html.UnescapeString(stripTags.Sanitize(t))
	t = runsOfSpace.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// FilterFor returns the ffmpeg audio filter for a voice profile.
// The tempo boost is shared; only the pitch factor differs.
func FilterFor(profile types.VoiceProfile) (string, error) {
	var pitch float64
	switch profile {
	case types.VoiceMale:
		pitch = 0.95
	case types.VoiceFemale:
		pitch = 1.05
	default:
		return "", fmt.Errorf("unknown voice profile %q", profile)
	}
	return fmt.Sprintf("atempo=%.2f,asetrate=%d*%.2f,aresample=%d", speechTempo, nominalRate, pitch, nominalRate), nil
}

// Synthesize writes the processed narration into workDir
func (s *Synthesizer) Synthesize(ctx context.Context, workDir, text string, profile types.VoiceProfile) (*types.AudioTrack, error) {
	filter, err := FilterFor(profile)
	if err != nil {
		return nil, failed(err)
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, failed(fmt.Errorf("create audio dir: %w", err))
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	clean := NormalizeText(text)
	id := uuid.NewString()[:8]
	rawPath := filepath.Join(workDir, "tts_"+id+"_raw.mp3")
	outPath := filepath.Join(workDir, "tts_"+id+".wav")
	defer os.Remove(rawPath)

	log.Info().Int("chars", len(clean)).Str("voice", string(profile)).Msg("[audio] Generating speech...")
	if err := s.engine.Synthesize(ctx, clean, rawPath); err != nil {
		return nil, failed(fmt.Errorf("speech engine: %w", err))
	}
	if err := nonEmpty(rawPath); err != nil {
		return nil, failed(fmt.Errorf("speech engine: %w", err))
	}

	err = s.encoder.Encode(ctx,
		"-y",
		"-i", rawPath,
		"-af", filter,
		"-ar", fmt.Sprint(nominalRate),
		"-ac", "2",
		outPath,
	)
	if err == nil {
		err = nonEmpty(outPath)
	}
	if err != nil {
		os.Remove(outPath)
		return nil, failed(fmt.Errorf("voice filter: %w", err))
	}

	hint := tools.Measure(ctx, s.prober, outPath, EstimateDuration(clean))
	log.Info().Str("path", outPath).Float64("seconds", hint).Msg("[audio] ✅ Narration ready")
	return &types.AudioTrack{Path: outPath, DurationHint: hint}, nil
}

// EstimateDuration guesses the spoken length of text after the tempo boost
func EstimateDuration(text string) float64 {
	words := len(strings.Fields(text))
	return float64(words) / wordsPerSecond / speechTempo
}

func failed(err error) error {
	return fmt.Errorf("%w: %w", types.ErrSynthesisFailed, err)
}
