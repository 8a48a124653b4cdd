package core

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunLog receives step output as steps complete, for live progress
// reporting. Implemented by internal/storage.LogStorage.
type RunLog interface {
	Append(instance, step, output string) error
}

// JobRunner drives the steps of one job instance in order, applying
// fail-fast semantics: the first failed step skips everything after it.
type JobRunner struct {
	Executor *Executor
	Log      RunLog
}

func NewJobRunner(executor *Executor, runLog RunLog) *JobRunner {
	return &JobRunner{Executor: executor, Log: runLog}
}

// Run executes a job instance and returns its aggregated result. The job
// moves Pending -> Running -> one of Succeeded, Failed, Cancelled. An
// expired or cancelled ctx terminates the in-flight child process and
// marks the current and remaining steps Cancelled.
func (r *JobRunner) Run(ctx context.Context, inst JobInstance) JobResult {
	result := JobResult{
		Instance:  inst.Name,
		Pool:      inst.Pool,
		Status:    StatusRunning,
		Steps:     make([]StepResult, 0, len(inst.Job.Steps)),
		StartedAt: time.Now().UTC(),
	}
	log.Info().Str("instance", inst.Name).Str("pool", inst.Pool).Msg("job started")

	// each instance owns its environment copy; the matrix assignment
	// seeds it as variables
	env := NewEnvironment(inst.SeedEnv())
	env.Set("BOXCI_INSTANCE", inst.Name)

	for i, step := range inst.Job.Steps {
		if ctx.Err() != nil {
			r.markRemaining(&result, inst.Job.Steps[i:], StatusCancelled)
			result.Status = StatusCancelled
			break
		}

		stepRes := r.Executor.Execute(ctx, step, env)
		r.record(inst.Name, stepRes)
		result.Steps = append(result.Steps, stepRes)

		switch stepRes.Status {
		case StatusFailed:
			// fail fast: "set -e" at step granularity
			r.markRemaining(&result, inst.Job.Steps[i+1:], StatusSkipped)
			result.Status = StatusFailed
		case StatusCancelled:
			r.markRemaining(&result, inst.Job.Steps[i+1:], StatusCancelled)
			result.Status = StatusCancelled
		default:
			continue
		}
		break
	}

	if result.Status == StatusRunning {
		result.Status = StatusSucceeded
	}
	result.FinishedAt = time.Now().UTC()

	log.Info().
		Str("instance", inst.Name).
		Str("status", string(result.Status)).
		Dur("took", result.FinishedAt.Sub(result.StartedAt)).
		Msg("job finished")
	return result
}

// record appends the step output to the job-scoped log as soon as the
// step completes.
func (r *JobRunner) record(instance string, res StepResult) {
	log.Debug().
		Str("instance", instance).
		Str("step", res.Step).
		Str("status", string(res.Status)).
		Int("exit_code", res.ExitCode).
		Msg("step finished")

	if r.Log == nil {
		return
	}
	if err := r.Log.Append(instance, res.Step, res.Output); err != nil {
		log.Warn().Err(err).Str("instance", instance).Msg("cannot save step log")
	}
}

func (r *JobRunner) markRemaining(result *JobResult, steps []StepDefinition, status Status) {
	now := time.Now().UTC()
	for _, step := range steps {
		result.Steps = append(result.Steps, StepResult{
			Step:       step.Name(),
			Status:     status,
			StartedAt:  now,
			FinishedAt: now,
		})
	}
}
