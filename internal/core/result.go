package core

import "time"

// Status is the lifecycle state of a step, a job or a whole run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// FailureClass tags why a step failed. Failures are recorded as data, not
// raised: the class is what the CLI maps to distinct exit codes.
type FailureClass string

const (
	FailureNone            FailureClass = ""
	FailureExitCode        FailureClass = "exit_code"
	FailureTimeout         FailureClass = "timeout"
	FailureUnknownTask     FailureClass = "unknown_task"
	FailureArtifactMissing FailureClass = "artifact_missing"
	FailureTask            FailureClass = "task_error"
)

// StepResult is the outcome of one step execution.
type StepResult struct {
	Step       string       `json:"step"`
	Status     Status       `json:"status"`
	Failure    FailureClass `json:"failure,omitempty"`
	ExitCode   int          `json:"exitCode"`
	Output     string       `json:"output,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// JobResult aggregates the ordered step results of one job instance.
type JobResult struct {
	Instance   string       `json:"instance"`
	Pool       string       `json:"pool,omitempty"`
	Status     Status       `json:"status"`
	Steps      []StepResult `json:"steps"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// FailureClass returns the failure class of the first failed step, or
// FailureNone when the job did not fail.
func (r *JobResult) FailureClass() FailureClass {
	for _, step := range r.Steps {
		if step.Status == StatusFailed {
			return step.Failure
		}
	}
	return FailureNone
}

// Trigger identifies what caused a pipeline run.
type Trigger struct {
	Source string `json:"source"`           // "manual", "schedule", "api"
	Name   string `json:"name,omitempty"`   // schedule display name, if any
	Branch string `json:"branch,omitempty"` // matched branch filter, if any
}

// PipelineRunResult is the rolled-up outcome of one pipeline run. Overall
// status is Failed if any job failed or was cancelled.
type PipelineRunResult struct {
	ID         string                `json:"id"`
	Pipeline   string                `json:"pipeline,omitempty"`
	Trigger    Trigger               `json:"trigger"`
	Status     Status                `json:"status"`
	Jobs       map[string]*JobResult `json:"jobs"`
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt time.Time             `json:"finishedAt"`
}

// Finalize computes the overall status from the collected job results.
func (r *PipelineRunResult) Finalize() {
	r.Status = StatusSucceeded
	for _, job := range r.Jobs {
		if job.Status == StatusFailed || job.Status == StatusCancelled {
			r.Status = StatusFailed
			return
		}
	}
}

// FailureClass returns the most specific failure class across all jobs,
// preferring unknown-task and missing-artifact failures over plain exit
// failures so the CLI can report distinct codes.
func (r *PipelineRunResult) FailureClass() FailureClass {
	var found FailureClass
	for _, job := range r.Jobs {
		switch job.FailureClass() {
		case FailureUnknownTask:
			return FailureUnknownTask
		case FailureArtifactMissing:
			found = FailureArtifactMissing
		case FailureExitCode, FailureTimeout, FailureTask:
			if found == FailureNone {
				found = job.FailureClass()
			}
		}
	}
	return found
}
