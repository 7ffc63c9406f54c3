package server

import (
	"sync"

	"news-video-pipeline/types"
)

// Hub fans job progress out to websocket subscribers and remembers the
// latest update so late subscribers start from the current state.
type Hub struct {
	mu     sync.Mutex
	latest map[string]types.Progress
	subs   map[string]map[chan types.Progress]struct{}
}

func NewHub() *Hub {
	return &Hub{
		latest: make(map[string]types.Progress),
		subs:   make(map[string]map[chan types.Progress]struct{}),
	}
}

// Publish records p for the job and offers it to every subscriber.
// Slow subscribers drop intermediate updates; terminal ones always get through.
func (h *Hub) Publish(jobID string, p types.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest[jobID] = p
	for ch := range h.subs[jobID] {
		if terminal(p) {
			// make room so the final update is never lost
			select {
			case <-ch:
			default:
			}
		}
		select {
		case ch <- p:
		default:
		}
	}
}

// Subscribe returns a channel of updates for the job, the last update seen so
// far (if any), and a func that unsubscribes.
func (h *Hub) Subscribe(jobID string) (<-chan types.Progress, *types.Progress, func()) {
	ch := make(chan types.Progress, 16)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan types.Progress]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	var last *types.Progress
	if p, ok := h.latest[jobID]; ok {
		last = &p
	}
	h.mu.Unlock()

	return ch, last, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[jobID], ch)
		if len(h.subs[jobID]) == 0 {
			delete(h.subs, jobID)
		}
	}
}

// Forget drops the remembered update for a finished job
func (h *Hub) Forget(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.latest, jobID)
}

func terminal(p types.Progress) bool {
	return p.Stage == types.StageDone || p.Stage == types.StageError
}
