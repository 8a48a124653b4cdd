package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxci/internal/core"
	"boxci/internal/history"
	"boxci/internal/storage"
	"boxci/internal/trigger"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	journal, err := history.Open(filepath.Join(t.TempDir(), "runs.jsonl"))
	require.NoError(t, err)

	registry := core.DefaultTaskRegistry(nil)
	runner := core.NewJobRunner(core.NewExecutor(registry), storage.NewLogStorage(t.TempDir()))
	srv := NewServer(core.NewDispatcher(runner, core.NewPool(0)), trigger.NewEngine(), journal)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postYAML(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/x-yaml", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSubmitRunAndFetchResult(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postYAML(t, ts.URL+"/pipelines", `
jobs:
  - job: Echo
    steps:
      - script: echo hello
`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]string
	decode(t, resp, &created)
	require.NotEmpty(t, created["id"])

	resp = postYAML(t, ts.URL+"/pipelines/"+created["id"]+"/runs", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started map[string]string
	decode(t, resp, &started)
	runID := started["id"]
	require.NotEmpty(t, runID)

	run := waitForRun(t, ts.URL, runID)
	assert.Equal(t, core.StatusSucceeded, run.Status)
	require.Contains(t, run.Jobs, "Echo")
	assert.Contains(t, run.Jobs["Echo"].Steps[0].Output, "hello")

	// finished run shows up in the journal listing
	listResp, err := http.Get(ts.URL + "/runs")
	require.NoError(t, err)
	var runs []core.PipelineRunResult
	decode(t, listResp, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
}

func TestSubmitInvalidPipeline(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postYAML(t, ts.URL+"/pipelines", "jobs:\n  - job: Broken")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTriggerUnknownPipeline(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postYAML(t, ts.URL+"/pipelines/nope/runs", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelRunningPipeline(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postYAML(t, ts.URL+"/pipelines", `
jobs:
  - job: Slow
    steps:
      - script: sleep 30
`)
	var created map[string]string
	decode(t, resp, &created)

	resp = postYAML(t, ts.URL+"/pipelines/"+created["id"]+"/runs", "")
	var started map[string]string
	decode(t, resp, &started)

	// give the job a moment to start, then cancel
	time.Sleep(200 * time.Millisecond)
	cancelResp := postYAML(t, ts.URL+"/runs/"+started["id"]+"/cancel", "")
	defer cancelResp.Body.Close()
	require.Equal(t, http.StatusOK, cancelResp.StatusCode)

	run := waitForRun(t, ts.URL, started["id"])
	assert.Equal(t, core.StatusFailed, run.Status, "cancelled jobs fail the run")
	assert.Equal(t, core.StatusCancelled, run.Jobs["Slow"].Status)
}

func TestTriggerLoopFiresDueScheduleAndStops(t *testing.T) {
	srv, ts := newTestServer(t)

	resp := postYAML(t, ts.URL+"/pipelines", `
jobs:
  - job: Echo
    steps:
      - script: echo scheduled
schedules:
  - cron: "* * * * *"
    displayName: every minute
`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]string
	decode(t, resp, &created)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.RunTriggerLoop(ctx, 10*time.Millisecond)
		close(done)
	}()

	// an every-minute schedule is due on the loop's first tick
	deadline := time.Now().Add(10 * time.Second)
	for len(srv.journal.Runs()) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	runs := srv.journal.Runs()
	require.NotEmpty(t, runs, "loop never dispatched the due schedule")
	assert.Equal(t, "schedule", runs[0].Trigger.Source)
	assert.Equal(t, "every minute", runs[0].Trigger.Name)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger loop did not stop on context cancellation")
	}
}

func waitForRun(t *testing.T, baseURL, runID string) *core.PipelineRunResult {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/runs/" + runID)
		require.NoError(t, err)

		var run core.PipelineRunResult
		decode(t, resp, &run)
		if run.Status != "" && run.Status != core.StatusRunning {
			return &run
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish in time", runID)
	return nil
}
