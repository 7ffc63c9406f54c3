package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"news-video-pipeline/config"
	"news-video-pipeline/pipeline"
	"news-video-pipeline/types"
)

const maxRequestBytes = 1 << 20

// Runner produces a video; *pipeline.Pipeline satisfies it
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, progress pipeline.ProgressFunc) (*types.MediaResult, error)
}

// Server exposes the pipeline over HTTP. Runs are started in the background,
// at most server.max_concurrent at a time.
type Server struct {
	store  *Store
	hub    *Hub
	runner Runner
	slots  *semaphore.Weighted

	// cancelled by Shutdown; every run derives from it
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func New(cfg config.ServerConfig, store *Store, runner Runner) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		store:  store,
		hub:    NewHub(),
		runner: runner,
		slots:  semaphore.NewWeighted(int64(max(cfg.MaxConcurrent, 1))),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler returns the routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /videos", s.createVideo)
	mux.HandleFunc("GET /videos", s.listVideos)
	mux.HandleFunc("GET /videos/{id}", s.getVideo)
	mux.HandleFunc("GET /videos/{id}/progress", s.videoProgress)
	mux.HandleFunc("GET /videos/{id}/download", s.downloadVideo)
	return mux
}

// Shutdown cancels running jobs and waits for them to record their outcome
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) createVideo(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || len(req.Scenes) == 0 {
		writeError(w, http.StatusBadRequest, "title and at least one scene are required")
		return
	}

	job := &Job{
		ID:                uuid.NewString(),
		Title:             req.Title,
		Voice:             string(req.Voice),
		Mode:              string(req.Mode),
		RequestedDuration: req.TargetDuration,
	}
	if err := s.store.Create(r.Context(), job); err != nil {
		log.Error().Err(err).Msg("[server] ❌ create job")
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}
	log.Info().Str("job", job.ID).Str("title", job.Title).Int("scenes", len(req.Scenes)).Msg("[server] job queued")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(job.ID, req)
	}()
	writeJSON(w, http.StatusAccepted, job)
}

// process waits for a free slot, runs the pipeline and records the outcome
func (s *Server) process(id string, req pipeline.Request) {
	defer s.hub.Forget(id)
	// status writes use a fresh context so a shutdown still records the failure
	record := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}

	if err := s.slots.Acquire(s.ctx, 1); err != nil {
		ctx, cancel := record()
		defer cancel()
		s.hub.Publish(id, types.Progress{Stage: types.StageError, Message: "server shutting down"})
		if err := s.store.Fail(ctx, id, "cancelled", "server shut down before the job started"); err != nil {
			log.Error().Err(err).Str("job", id).Msg("[server] ❌ record failure")
		}
		return
	}
	defer s.slots.Release(1)

	if err := s.store.MarkProcessing(s.ctx, id); err != nil {
		log.Error().Err(err).Str("job", id).Msg("[server] ❌ mark processing")
	}
	res, runErr := s.runner.Run(s.ctx, req, func(p types.Progress) { s.hub.Publish(id, p) })

	ctx, cancel := record()
	defer cancel()
	if runErr != nil {
		stage, msg := describeFailure(runErr)
		if err := s.store.Fail(ctx, id, stage, msg); err != nil {
			log.Error().Err(err).Str("job", id).Msg("[server] ❌ record failure")
		}
		return
	}
	if err := s.store.Complete(ctx, id, res); err != nil {
		log.Error().Err(err).Str("job", id).Msg("[server] ❌ record completion")
		return
	}
	log.Info().Str("job", id).Str("path", res.Path).Msg("[server] ✅ job complete")
}

func describeFailure(err error) (stage, message string) {
	var pe *types.PipelineError
	switch {
	case errors.As(err, &pe):
		return string(pe.Stage), pe.UserMessage()
	case errors.Is(err, context.Canceled):
		return "cancelled", "job cancelled"
	default:
		return "unknown", err.Error()
	}
}

func (s *Server) listVideos(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("[server] ❌ list jobs")
		writeError(w, http.StatusInternalServerError, "could not list jobs")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getVideo(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// videoProgress streams progress updates over a websocket until the job ends
func (s *Server) videoProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	updates, last, unsubscribe := s.hub.Subscribe(id)
	defer unsubscribe()

	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("job", id).Msg("[server] ⚠️  websocket upgrade")
		return
	}
	defer conn.Close()

	// the client only listens; reading detects when it goes away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(p types.Progress) bool {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(p); err != nil {
			return false
		}
		return !terminal(p)
	}
	closeNormal := func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}

	if last != nil {
		if !send(*last) {
			closeNormal()
			return
		}
	} else if p, done := finishedProgress(job); done {
		send(p)
		closeNormal()
		return
	}

	for {
		select {
		case p := <-updates:
			if !send(p) {
				closeNormal()
				return
			}
		case <-gone:
			return
		case <-s.ctx.Done():
			closeNormal()
			return
		}
	}
}

// finishedProgress turns a job that already ended into its final update
func finishedProgress(j *Job) (types.Progress, bool) {
	switch j.Status {
	case StatusCompleted:
		return types.Progress{Stage: types.StageDone, Percent: 100, Message: "Video generated successfully"}, true
	case StatusError:
		return types.Progress{Stage: types.StageError, Message: j.ErrorMessage}, true
	}
	return types.Progress{}, false
}

func (s *Server) downloadVideo(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if job.Status != StatusCompleted {
		writeError(w, http.StatusConflict, fmt.Sprintf("video is %s", strings.ToLower(string(job.Status))))
		return
	}
	if _, err := os.Stat(job.FilePath); err != nil {
		writeError(w, http.StatusGone, "video file no longer exists")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(job.FilePath)))
	http.ServeFile(w, r, job.FilePath)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Job, bool) {
	job, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "video not found")
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Msg("[server] ❌ get job")
		writeError(w, http.StatusInternalServerError, "could not load job")
		return nil, false
	}
	return job, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("[server] ⚠️  write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
