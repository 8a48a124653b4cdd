// Package trigger evaluates cron schedules against wall-clock time and
// decides which pipelines are due to run. Invalid cron expressions are
// rejected when a schedule is built, never at tick time.
package trigger

import (
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/robfig/cron/v3"

	"boxci/internal/core"
)

// Schedule is one compiled cron trigger bound to a pipeline.
type Schedule struct {
	Pipeline string // pipeline identifier the firing dispatches
	Name     string // display name
	Expr     string

	spec     cron.Schedule
	include  []glob.Glob
	exclude  []glob.Glob
	branches core.BranchFilters

	lastFired time.Time // minute of the last firing, for idempotence
}

// NewSchedule compiles a schedule definition. The cron expression must be
// a valid 5-field schedule and every branch filter a valid glob.
func NewSchedule(pipeline string, def core.ScheduleDefinition) (*Schedule, error) {
	spec, err := cron.ParseStandard(def.Cron)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: invalid cron expression %q: %w", def.DisplayName, def.Cron, err)
	}

	s := &Schedule{
		Pipeline: pipeline,
		Name:     def.DisplayName,
		Expr:     def.Cron,
		spec:     spec,
		branches: def.Branches,
	}
	for _, pattern := range def.Branches.Include {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: invalid branch filter %q: %w", def.DisplayName, pattern, err)
		}
		s.include = append(s.include, g)
	}
	for _, pattern := range def.Branches.Exclude {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: invalid branch filter %q: %w", def.DisplayName, pattern, err)
		}
		s.exclude = append(s.exclude, g)
	}
	return s, nil
}

// Matches reports whether the schedule applies to a branch: excluded
// branches never match, and an empty include list matches everything.
func (s *Schedule) Matches(branch string) bool {
	for _, g := range s.exclude {
		if g.Match(branch) {
			return false
		}
	}
	if len(s.include) == 0 {
		return true
	}
	for _, g := range s.include {
		if g.Match(branch) {
			return true
		}
	}
	return false
}

// Branches returns the raw branch filters for reporting.
func (s *Schedule) Branches() core.BranchFilters {
	return s.branches
}

// due reports whether the schedule matches the given minute.
func (s *Schedule) due(minute time.Time) bool {
	return s.spec.Next(minute.Add(-time.Second)).Equal(minute)
}

// Firing is one schedule that matched the current minute.
type Firing struct {
	Pipeline string
	Schedule string
	Branches core.BranchFilters
	At       time.Time
}

// Engine holds the registered schedules and is driven by an external
// periodic clock calling Tick.
type Engine struct {
	mu        sync.Mutex
	schedules []*Schedule
}

func NewEngine() *Engine {
	return &Engine{}
}

// Add registers a schedule.
func (e *Engine) Add(s *Schedule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.schedules = append(e.schedules, s)
}

// AddPipeline compiles and registers every schedule of a definition.
func (e *Engine) AddPipeline(pipeline string, def *core.PipelineDefinition) error {
	for _, sd := range def.Schedules {
		s, err := NewSchedule(pipeline, sd)
		if err != nil {
			return err
		}
		e.Add(s)
	}
	return nil
}

// Tick evaluates every schedule at minute granularity and returns the
// firings due at now. A schedule fires at most once per matching minute,
// however often Tick is called within it.
func (e *Engine) Tick(now time.Time) []Firing {
	minute := now.Truncate(time.Minute)

	e.mu.Lock()
	defer e.mu.Unlock()

	var firings []Firing
	for _, s := range e.schedules {
		if s.lastFired.Equal(minute) {
			continue
		}
		if !s.due(minute) {
			continue
		}
		s.lastFired = minute
		firings = append(firings, Firing{
			Pipeline: s.Pipeline,
			Schedule: s.Name,
			Branches: s.branches,
			At:       minute,
		})
	}
	return firings
}
