package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Encoder runs the video-encoding tool with the given arguments
type Encoder interface {
	Encode(ctx context.Context, args ...string) error
}

// FFmpeg runs the binary resolved by a Locator. Output is kept in a bounded buffer
// so verbose encodes cannot grow memory without limit.
type FFmpeg struct {
	locator     *Locator
	maxLogBytes int
}

// NewFFmpeg creates an Encoder backed by the located ffmpeg binary
func NewFFmpeg(locator *Locator, maxLogBytes int) *FFmpeg {
	if maxLogBytes <= 0 {
		maxLogBytes = 1 << 20
	}
	return &FFmpeg{locator: locator, maxLogBytes: maxLogBytes}
}

// Encode runs ffmpeg; the caller bounds it with a context deadline
func (f *FFmpeg) Encode(ctx context.Context, args ...string) error {
	bin, err := f.locator.Resolve(ctx)
	if err != nil {
		return err
	}

	out := newTailBuffer(f.maxLogBytes)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, lastLines(out.String(), 6))
	}
	log.Debug().Dur("took", time.Since(start)).Str("output", outputArg(args)).Msg("[tools] ffmpeg done")
	return nil
}

// outputArg is the last argument, which is the output file for every call we make
func outputArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[len(args)-1]
}

// tailBuffer keeps only the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.max {
		b.buf = append(b.buf[:0], p[n-b.max:]...)
		return n, nil
	}
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = append(b.buf[:0], b.buf[len(b.buf)-b.max:]...)
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
