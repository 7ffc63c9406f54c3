package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"news-video-pipeline/config"
)

// Engine produces raw speech for a piece of text at outPath
type Engine interface {
	Synthesize(ctx context.Context, text, outPath string) error
}

// CommandEngine calls an external TTS binary or script.
// Set TTS_COMMAND in .env to a command that accepts:
//
//	--text "..." --output path/to/file.mp3
//
// If TTS_COMMAND is not set it falls back to edge-tts, then gtts-cli.
type CommandEngine struct {
	mu       sync.Mutex
	command  string
	voice    string
	lang     string
	attempts int
	backoff  time.Duration
	lookPath func(string) (string, error)
}

// NewCommandEngine reads TTS_COMMAND from the environment, else the configured command
func NewCommandEngine(cfg config.AudioConfig) *CommandEngine {
	cmd := strings.TrimSpace(os.Getenv("TTS_COMMAND"))
	if cmd == "" {
		cmd = strings.TrimSpace(cfg.TTSCommand)
	}
	return &CommandEngine{
		command:  cmd,
		voice:    cfg.BaseVoice,
		lang:     cfg.Language,
		attempts: 3,
		backoff:  2 * time.Second,
		lookPath: exec.LookPath,
	}
}

// resolve picks the engine binary on first use
func (e *CommandEngine) resolve() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.command != "" {
		return e.command, nil
	}
	for _, name := range []string{"edge-tts", "gtts-cli"} {
		if _, err := e.lookPath(name); err == nil {
			log.Info().Msgf("[audio] Using %s as TTS engine (fallback)", name)
			e.command = name
			return name, nil
		}
	}
	return "", errors.New("no TTS engine found. Set TTS_COMMAND in .env or install edge-tts: pip install edge-tts")
}

// commandArgs builds the argv for one invocation. Text goes in as a single
// argument, never through a shell.
func (e *CommandEngine) commandArgs(bin, text, outPath string) (string, []string) {
	switch {
	case bin == "edge-tts":
		voice := e.voice
		if voice == "" {
			voice = "en-US-GuyNeural"
		}
		return "edge-tts", []string{"--voice", voice, "--text", text, "--write-media", outPath}
	case bin == "gtts-cli":
		lang := e.lang
		if lang == "" {
			lang = "en"
		}
		return "gtts-cli", []string{text, "--lang", lang, "--output", outPath}
	case strings.HasSuffix(bin, ".py"):
		return "python3", []string{bin, "--text", text, "--output", outPath}
	default:
		return bin, []string{"--text", text, "--output", outPath}
	}
}

// Synthesize runs the engine, retrying up to attempts times
func (e *CommandEngine) Synthesize(ctx context.Context, text, outPath string) error {
	bin, err := e.resolve()
	if err != nil {
		return err
	}
	name, args := e.commandArgs(bin, text, outPath)

	for attempt := 1; ; attempt++ {
		var out bytes.Buffer
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Stdout = &out
		cmd.Stderr = &out

		err = cmd.Run()
		if err == nil {
			err = nonEmpty(outPath)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt >= e.attempts {
			return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(tail(out.String(), 400)))
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("[audio] ⚠️ TTS attempt failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * e.backoff):
		}
	}
}

func nonEmpty(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output %s is empty", path)
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
