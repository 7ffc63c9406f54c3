package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"news-video-pipeline/config"
	"news-video-pipeline/types"

	"github.com/rs/zerolog/log"
)

// Locator finds a working ffmpeg binary and remembers it for the life of the process.
// The first successful resolution is final; failed resolutions are not cached.
type Locator struct {
	cfg config.ToolsConfig

	mu        sync.Mutex
	path      string
	probePath string

	executable func() (string, error)
	lookPath   func(string) (string, error)
	isExec     func(string) bool
	version    func(ctx context.Context, bin string) error
}

// NewLocator creates a Locator for the given tool settings
func NewLocator(cfg config.ToolsConfig) *Locator {
	l := &Locator{
		cfg:        cfg,
		executable: os.Executable,
		lookPath:   exec.LookPath,
		isExec:     isExecutable,
	}
	l.version = l.runVersion
	return l
}

type strategy struct {
	name string
	find func(ctx context.Context) (string, error)
}

// Resolve returns the cached ffmpeg path, probing the candidate locations on first use
func (l *Locator) Resolve(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path != "" {
		return l.path, nil
	}

	for _, s := range l.strategies() {
		p, err := s.find(ctx)
		if err != nil {
			log.Debug().Err(err).Str("strategy", s.name).Msg("[tools] ffmpeg candidate rejected")
			continue
		}
		l.path = p
		log.Info().Str("strategy", s.name).Str("path", p).Msg("[tools] ✅ using ffmpeg")
		return p, nil
	}

	return "", fmt.Errorf("%w: checked bundled path, executable dir, PATH and %s",
		types.ErrToolNotFound, strings.Join(l.cfg.FFmpegKnownDirs, ", "))
}

// ProbePath returns the ffprobe binary that belongs with the resolved ffmpeg
func (l *Locator) ProbePath(ctx context.Context) (string, error) {
	bin, err := l.Resolve(ctx)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.probePath != "" {
		return l.probePath, nil
	}

	name := exeName("ffprobe")
	if dir := filepath.Dir(bin); dir != "." {
		sibling := filepath.Join(dir, name)
		if l.isExec(sibling) {
			l.probePath = sibling
			return sibling, nil
		}
	}
	if l.cfg.FFprobe != "" {
		l.probePath = l.cfg.FFprobe
		return l.probePath, nil
	}
	p, err := l.lookPath(name)
	if err != nil {
		return "", fmt.Errorf("ffprobe not found: %w", err)
	}
	l.probePath = p
	return p, nil
}

func (l *Locator) strategies() []strategy {
	name := exeName(l.cfg.FFmpegName)
	return []strategy{
		{"bundled", func(ctx context.Context) (string, error) {
			if l.cfg.FFmpegBundled == "" {
				return "", errors.New("no bundled path configured")
			}
			if !l.isExec(l.cfg.FFmpegBundled) {
				return "", fmt.Errorf("%s is not executable", l.cfg.FFmpegBundled)
			}
			return l.cfg.FFmpegBundled, nil
		}},
		{"executable-dir", func(ctx context.Context) (string, error) {
			exe, err := l.executable()
			if err != nil {
				return "", err
			}
			dir := filepath.Dir(exe)
			for _, p := range []string{filepath.Join(dir, name), filepath.Join(dir, "bin", name)} {
				if l.isExec(p) {
					return p, nil
				}
			}
			return "", fmt.Errorf("no %s next to %s", name, exe)
		}},
		{"path", func(ctx context.Context) (string, error) {
			p, err := l.lookPath(name)
			if err != nil {
				return "", err
			}
			if err := l.version(ctx, p); err != nil {
				return "", err
			}
			return p, nil
		}},
		{"known-dirs", func(ctx context.Context) (string, error) {
			for _, dir := range l.cfg.FFmpegKnownDirs {
				p := filepath.Join(dir, name)
				if !l.isExec(p) {
					continue
				}
				if err := l.version(ctx, p); err != nil {
					continue
				}
				return p, nil
			}
			return "", errors.New("not in any known directory")
		}},
	}
}

// runVersion checks the binary actually runs by asking for its version
func (l *Locator) runVersion(ctx context.Context, bin string) error {
	timeout := time.Duration(l.cfg.VersionTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := exec.CommandContext(vctx, bin, "-version").Run(); err != nil {
		return fmt.Errorf("%s -version: %w", bin, err)
	}
	return nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

func exeName(name string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name + ".exe"
	}
	return name
}
