package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"boxci/internal/core"
	"boxci/internal/history"
	"boxci/internal/trigger"
)

// Server holds the submitted pipelines and the runs in flight.
type Server struct {
	mu        sync.Mutex
	pipelines map[string]*core.PipelineDefinition
	runs      map[string]*runHandle

	dispatcher *core.Dispatcher
	engine     *trigger.Engine
	journal    *history.Journal
}

// runHandle tracks one asynchronous pipeline run until its result lands
// in the journal.
type runHandle struct {
	pipeline string
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.Mutex
	result *core.PipelineRunResult
}

func NewServer(dispatcher *core.Dispatcher, engine *trigger.Engine, journal *history.Journal) *Server {
	return &Server{
		pipelines:  make(map[string]*core.PipelineDefinition),
		runs:       make(map[string]*runHandle),
		dispatcher: dispatcher,
		engine:     engine,
		journal:    journal,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Post("/pipelines", s.handleSubmitPipeline)
	r.Post("/pipelines/{id}/runs", s.handleTriggerRun)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Post("/runs/{id}/cancel", s.handleCancelRun)
	return r
}

// POST /pipelines -> submit a pipeline YAML, register its schedules
func (s *Server) handleSubmitPipeline(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	def, err := core.Parse(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	if err := s.engine.AddPipeline(id, def); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.pipelines[id] = def
	s.mu.Unlock()

	log.Info().Str("pipeline", id).Int("jobs", len(def.Jobs)).Int("schedules", len(def.Schedules)).Msg("pipeline submitted")
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// POST /pipelines/{id}/runs -> manual trigger, async dispatch
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	def, ok := s.pipelines[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "pipeline not found", http.StatusNotFound)
		return
	}

	runID := s.startRun(id, def, core.Trigger{Source: "api"})
	writeJSON(w, http.StatusAccepted, map[string]string{"id": runID, "status": string(core.StatusRunning)})
}

// GET /runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	handle, ok := s.runs[id]
	s.mu.Unlock()

	if ok {
		handle.mu.Lock()
		result := handle.result
		handle.mu.Unlock()
		if result == nil {
			writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(core.StatusRunning)})
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if run := s.journal.Find(id); run != nil {
		writeJSON(w, http.StatusOK, run)
		return
	}
	http.Error(w, "run not found", http.StatusNotFound)
}

// GET /runs
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.journal.Runs())
}

// POST /runs/{id}/cancel
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	handle, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "run not found or already finished", http.StatusNotFound)
		return
	}

	handle.cancel()
	<-handle.done
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(core.StatusCancelled)})
}

// startRun dispatches a run in the background and returns its id
// immediately.
func (s *Server) startRun(pipeline string, def *core.PipelineDefinition, trig core.Trigger) string {
	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	handle := &runHandle{
		pipeline: pipeline,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[runID] = handle
	s.mu.Unlock()

	go func() {
		defer cancel()
		defer close(handle.done)

		result := s.dispatcher.DispatchWithID(ctx, runID, def, core.Instances(def), trig)

		handle.mu.Lock()
		handle.result = result
		handle.mu.Unlock()

		if err := s.journal.Append(result); err != nil {
			log.Warn().Err(err).Str("run", runID).Msg("cannot record run in journal")
		}

		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	}()
	return runID
}

// RunTriggerLoop drives the trigger engine with a periodic clock and
// dispatches pipelines whose schedules match the current minute. It
// returns when ctx is cancelled.
func (s *Server) RunTriggerLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.dispatchDue(now)
		}
	}
}

func (s *Server) dispatchDue(now time.Time) {
	for _, firing := range s.engine.Tick(now) {
		s.mu.Lock()
		def, ok := s.pipelines[firing.Pipeline]
		s.mu.Unlock()
		if !ok {
			continue
		}

		branch := ""
		if len(firing.Branches.Include) > 0 {
			branch = firing.Branches.Include[0]
		}
		log.Info().
			Str("pipeline", firing.Pipeline).
			Str("schedule", firing.Schedule).
			Time("at", firing.At).
			Msg("schedule fired")
		s.startRun(firing.Pipeline, def, core.Trigger{Source: "schedule", Name: firing.Schedule, Branch: branch})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("cannot encode response")
	}
}
