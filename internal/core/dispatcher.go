package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Pool is the explicit worker-pool resource the dispatcher checks job
// slots out of. Size 0 means one slot per instance, i.e. full parallelism
// across a run. It is passed in, never a hidden singleton.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
}

// NewPool creates a pool with the given number of slots; size <= 0 leaves
// the pool unbounded.
func NewPool(size int) *Pool {
	p := &Pool{size: int64(size)}
	if size > 0 {
		p.sem = semaphore.NewWeighted(int64(size))
	}
	return p
}

// Checkout blocks until a slot is free (or ctx is done).
func (p *Pool) Checkout(ctx context.Context) error {
	if p.sem == nil {
		return ctx.Err()
	}
	return p.sem.Acquire(ctx, 1)
}

// Return gives the slot back.
func (p *Pool) Return() {
	if p.sem != nil {
		p.sem.Release(1)
	}
}

// Dispatcher runs all concrete job instances of a pipeline trigger and
// rolls their results up into one PipelineRunResult.
type Dispatcher struct {
	Runner *JobRunner
	Pool   *Pool
}

func NewDispatcher(runner *JobRunner, pool *Pool) *Dispatcher {
	if pool == nil {
		pool = NewPool(0)
	}
	return &Dispatcher{Runner: runner, Pool: pool}
}

// Instances expands every job of the definition, applying the
// pipeline-level pool to jobs that do not declare their own.
func Instances(def *PipelineDefinition) []JobInstance {
	var instances []JobInstance
	for _, job := range def.Jobs {
		expanded := Expand(job)
		for i := range expanded {
			if expanded[i].Pool == "" {
				expanded[i].Pool = def.Pool
			}
		}
		instances = append(instances, expanded...)
	}
	return instances
}

// Dispatch runs the given instances concurrently under the pool's bound.
// Jobs are independent by construction: a failing job never short-circuits
// its siblings, and all JobResults are present when the run finalizes.
func (d *Dispatcher) Dispatch(ctx context.Context, def *PipelineDefinition, instances []JobInstance, trigger Trigger) *PipelineRunResult {
	return d.DispatchWithID(ctx, uuid.NewString(), def, instances, trigger)
}

// DispatchWithID is Dispatch with a caller-chosen run identifier, for
// callers that must hand out the id before the run completes.
func (d *Dispatcher) DispatchWithID(ctx context.Context, id string, def *PipelineDefinition, instances []JobInstance, trigger Trigger) *PipelineRunResult {
	run := &PipelineRunResult{
		ID:        id,
		Pipeline:  def.Name,
		Trigger:   trigger,
		Status:    StatusRunning,
		Jobs:      make(map[string]*JobResult, len(instances)),
		StartedAt: time.Now().UTC(),
	}

	log.Info().
		Str("run", run.ID).
		Str("trigger", trigger.Source).
		Int("instances", len(instances)).
		Msg("pipeline run started")

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, inst := range instances {
		wg.Add(1)
		go func(inst JobInstance) {
			defer wg.Done()

			if err := d.Pool.Checkout(ctx); err != nil {
				// run cancelled while waiting for a slot
				res := d.cancelledResult(inst)
				mu.Lock()
				run.Jobs[inst.Name] = &res
				mu.Unlock()
				return
			}
			defer d.Pool.Return()

			res := d.Runner.Run(ctx, inst)
			mu.Lock()
			run.Jobs[inst.Name] = &res
			mu.Unlock()
		}(inst)
	}
	wg.Wait()

	run.Finalize()
	run.FinishedAt = time.Now().UTC()

	log.Info().
		Str("run", run.ID).
		Str("status", string(run.Status)).
		Dur("took", run.FinishedAt.Sub(run.StartedAt)).
		Msg("pipeline run finished")
	return run
}

func (d *Dispatcher) cancelledResult(inst JobInstance) JobResult {
	now := time.Now().UTC()
	res := JobResult{
		Instance:   inst.Name,
		Pool:       inst.Pool,
		Status:     StatusCancelled,
		StartedAt:  now,
		FinishedAt: now,
	}
	for _, step := range inst.Job.Steps {
		res.Steps = append(res.Steps, StepResult{
			Step:       step.Name(),
			Status:     StatusCancelled,
			StartedAt:  now,
			FinishedAt: now,
		})
	}
	return res
}
