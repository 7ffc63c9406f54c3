package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"news-video-pipeline/config"
	"news-video-pipeline/pipeline"
	"news-video-pipeline/types"
)

// gatedRunner reports "preparing", then waits for the gate before finishing
type gatedRunner struct {
	gate chan struct{}
	dir  string
	err  error
}

func (g *gatedRunner) Run(ctx context.Context, req pipeline.Request, progress pipeline.ProgressFunc) (*types.MediaResult, error) {
	progress(types.Progress{Stage: types.StagePreparing, Percent: 10, Message: "Preparing video generation"})
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.err != nil {
		progress(types.Progress{Stage: types.StageError, Percent: 10, Message: g.err.Error()})
		return nil, g.err
	}
	path := filepath.Join(g.dir, "video_test.mp4")
	if err := os.WriteFile(path, []byte("fake mp4"), 0644); err != nil {
		return nil, err
	}
	progress(types.Progress{Stage: types.StageDone, Percent: 100, Message: "Video generated successfully"})
	return &types.MediaResult{Path: path, MeasuredDurationSeconds: 15, SizeBytes: 8}, nil
}

func startServer(t *testing.T, runner Runner) *httptest.Server {
	t.Helper()
	srv := New(config.ServerConfig{MaxConcurrent: 1}, openTestStore(t), runner)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return ts
}

const videoBody = `{"title":"Quantum Leap","voiceType":"female","visualMode":"stock-footage","duration":15,
	"scenes":[{"sceneNumber":1,"narration":"Chips shrink.","visualDescription":"processor","duration":5}]}`

func postVideo(t *testing.T, ts *httptest.Server, body string) (*http.Response, Job) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/videos", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var job Job
	json.NewDecoder(resp.Body).Decode(&job)
	return resp, job
}

func getJob(t *testing.T, ts *httptest.Server, id string) Job {
	t.Helper()
	resp, err := http.Get(ts.URL + "/videos/" + id)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	return job
}

func waitForStatus(t *testing.T, ts *httptest.Server, id string, want JobStatus) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		job := getJob(t, ts, id)
		if job.Status == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s, want %s", id, job.Status, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCreateVideoStreamsProgressAndDownloads(t *testing.T) {
	runner := &gatedRunner{gate: make(chan struct{}), dir: t.TempDir()}
	ts := startServer(t, runner)

	resp, job := postVideo(t, ts, videoBody)
	if resp.StatusCode != http.StatusAccepted || job.ID == "" {
		t.Fatalf("POST /videos = %d %+v", resp.StatusCode, job)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/videos/"+job.ID+"/progress", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first types.Progress
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.Stage != types.StagePreparing {
		t.Fatalf("first update = %+v", first)
	}

	// download is refused until the job completes
	early, err := http.Get(ts.URL + "/videos/" + job.ID + "/download")
	if err != nil {
		t.Fatal(err)
	}
	early.Body.Close()
	if early.StatusCode != http.StatusConflict {
		t.Fatalf("early download = %d", early.StatusCode)
	}

	close(runner.gate)
	var last types.Progress
	if err := conn.ReadJSON(&last); err != nil {
		t.Fatalf("read: %v", err)
	}
	if last.Stage != types.StageDone || last.Percent != 100 {
		t.Fatalf("last update = %+v", last)
	}

	done := waitForStatus(t, ts, job.ID, StatusCompleted)
	if done.ActualDuration != 15 || done.SizeBytes != 8 {
		t.Fatalf("completed job = %+v", done)
	}

	dl, err := http.Get(ts.URL + "/videos/" + job.ID + "/download")
	if err != nil {
		t.Fatal(err)
	}
	defer dl.Body.Close()
	body, _ := io.ReadAll(dl.Body)
	if dl.StatusCode != http.StatusOK || !bytes.Equal(body, []byte("fake mp4")) {
		t.Fatalf("download = %d %q", dl.StatusCode, body)
	}
	if cd := dl.Header.Get("Content-Disposition"); !strings.Contains(cd, "video_test.mp4") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
}

func TestFailedJobRecordsStage(t *testing.T) {
	runner := &gatedRunner{
		gate: make(chan struct{}),
		err:  &types.PipelineError{Stage: types.FailSynthesis, Err: errors.New("edge-tts exited 1")},
	}
	close(runner.gate)
	ts := startServer(t, runner)

	_, job := postVideo(t, ts, videoBody)
	failed := waitForStatus(t, ts, job.ID, StatusError)
	if failed.ErrorStage != "synthesis" || !strings.Contains(failed.ErrorMessage, "voice generation failed") {
		t.Fatalf("failed job = %+v", failed)
	}

	// a finished job still answers on the progress socket with its final state
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/videos/"+job.ID+"/progress", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var p types.Progress
	if err := conn.ReadJSON(&p); err != nil {
		t.Fatalf("read: %v", err)
	}
	if p.Stage != types.StageError {
		t.Fatalf("update = %+v", p)
	}
}

func TestCreateVideoValidation(t *testing.T) {
	ts := startServer(t, &gatedRunner{gate: make(chan struct{})})

	for name, body := range map[string]string{
		"bad json":  `{"title":`,
		"no title":  `{"scenes":[{"sceneNumber":1}]}`,
		"no scenes": `{"title":"x","scenes":[]}`,
	} {
		resp, _ := postVideo(t, ts, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status %d", name, resp.StatusCode)
		}
	}

	resp, err := http.Get(ts.URL + "/videos/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET unknown = %d", resp.StatusCode)
	}
}

func TestListVideos(t *testing.T) {
	ts := startServer(t, &gatedRunner{gate: make(chan struct{})})
	postVideo(t, ts, videoBody)
	postVideo(t, ts, videoBody)

	resp, err := http.Get(ts.URL + "/videos")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var jobs []Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("listed %d jobs", len(jobs))
	}
}

func TestHubKeepsTerminalUpdate(t *testing.T) {
	h := NewHub()
	ch, last, unsubscribe := h.Subscribe("j")
	defer unsubscribe()
	if last != nil {
		t.Fatal("no updates yet")
	}
	for i := 0; i < 40; i++ {
		h.Publish("j", types.Progress{Stage: types.StageVoice, Percent: 25})
	}
	h.Publish("j", types.Progress{Stage: types.StageDone, Percent: 100})

	var got types.Progress
	for len(ch) > 0 {
		got = <-ch
	}
	if got.Stage != types.StageDone {
		t.Fatalf("last buffered update = %+v", got)
	}
	if _, last, un := h.Subscribe("j"); last == nil || last.Stage != types.StageDone {
		t.Fatalf("late subscriber saw %+v", last)
	} else {
		un()
	}
}

func TestDescribeFailure(t *testing.T) {
	tests := []struct {
		err   error
		stage string
		msg   string
	}{
		{&types.PipelineError{Stage: types.FailRequest, Err: fmt.Errorf("%w: unknown visual mode", pipeline.ErrInvalidRequest)}, "request", "invalid request"},
		{&types.PipelineError{Stage: types.FailAssembly, Err: errors.New("boom")}, "assembly", "video assembly failed"},
		{context.Canceled, "cancelled", "job cancelled"},
		{errors.New("odd"), "unknown", "odd"},
	}
	for _, tt := range tests {
		stage, msg := describeFailure(tt.err)
		if stage != tt.stage || !strings.Contains(msg, tt.msg) {
			t.Errorf("describeFailure(%v) = %q, %q", tt.err, stage, msg)
		}
	}
}
