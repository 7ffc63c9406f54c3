package pipeline

import (
	"errors"
	"sync"

	"news-video-pipeline/types"
)

// ProgressFunc receives progress updates. It is called synchronously and must not block.
type ProgressFunc func(types.Progress)

// tracker forwards updates while keeping the percentage from going backwards,
// which can otherwise happen when voice and visuals finish out of order.
type tracker struct {
	mu  sync.Mutex
	pct int
	fn  ProgressFunc
}

func newTracker(fn ProgressFunc) *tracker {
	return &tracker{fn: fn}
}

func (t *tracker) update(stage types.ProgressStage, pct int, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pct < t.pct {
		pct = t.pct
	}
	t.pct = pct
	if t.fn != nil {
		t.fn(types.Progress{Stage: stage, Percent: pct, Message: msg})
	}
}

func (t *tracker) fail(err error) {
	msg := err.Error()
	var pe *types.PipelineError
	if errors.As(err, &pe) {
		msg = pe.UserMessage()
	}
	t.update(types.StageError, 0, msg)
}
