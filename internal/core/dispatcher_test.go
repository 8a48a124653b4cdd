package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(pool *Pool) *Dispatcher {
	return NewDispatcher(newTestRunner(nil), pool)
}

func scriptJob(name, script string) JobDefinition {
	return JobDefinition{Name: name, Steps: []StepDefinition{{Script: script}}}
}

func TestDispatchIndependentJobs(t *testing.T) {
	def := &PipelineDefinition{
		Name: "mixed",
		Jobs: []JobDefinition{
			scriptJob("Failing", "exit 1"),
			scriptJob("Passing", "echo ok"),
		},
	}

	d := newTestDispatcher(nil)
	run := d.Dispatch(context.Background(), def, Instances(def), Trigger{Source: "manual"})

	assert.Equal(t, StatusFailed, run.Status)
	require.Len(t, run.Jobs, 2)
	assert.Equal(t, StatusFailed, run.Jobs["Failing"].Status)
	assert.Equal(t, StatusSucceeded, run.Jobs["Passing"].Status,
		"a failing job must not short-circuit its siblings")
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "manual", run.Trigger.Source)
}

func TestDispatchAllSucceed(t *testing.T) {
	def := &PipelineDefinition{
		Jobs: []JobDefinition{
			scriptJob("A", "echo a"),
			scriptJob("B", "echo b"),
			scriptJob("C", "echo c"),
		},
	}

	d := newTestDispatcher(nil)
	run := d.Dispatch(context.Background(), def, Instances(def), Trigger{Source: "manual"})

	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Len(t, run.Jobs, 3)
}

func TestDispatchBoundedPool(t *testing.T) {
	def := &PipelineDefinition{
		Jobs: []JobDefinition{
			scriptJob("A", "echo a"),
			scriptJob("B", "echo b"),
			scriptJob("C", "echo c"),
			scriptJob("D", "echo d"),
		},
	}

	d := newTestDispatcher(NewPool(1))
	run := d.Dispatch(context.Background(), def, Instances(def), Trigger{Source: "manual"})

	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Len(t, run.Jobs, 4, "all jobs complete even with a single pool slot")
}

func TestDispatchExpandsMatrix(t *testing.T) {
	def := &PipelineDefinition{
		Jobs: []JobDefinition{
			{
				Name:     "Grid",
				Strategy: &Strategy{Matrix: MatrixSpec{Axes: []MatrixAxis{{Name: "python.version", Values: []string{"3.7", "3.8"}}}}},
				Steps:    []StepDefinition{{Script: `echo "v=$PYTHON_VERSION"`}},
			},
		},
	}

	d := newTestDispatcher(nil)
	run := d.Dispatch(context.Background(), def, Instances(def), Trigger{Source: "manual"})

	require.Len(t, run.Jobs, 2)
	assert.Contains(t, run.Jobs, "Grid (Python37)")
	assert.Contains(t, run.Jobs, "Grid (Python38)")
	assert.Contains(t, run.Jobs["Grid (Python37)"].Steps[0].Output, "v=3.7")
	assert.Contains(t, run.Jobs["Grid (Python38)"].Steps[0].Output, "v=3.8")
}

func TestDispatchCancelledRunReportsCancelledJobs(t *testing.T) {
	def := &PipelineDefinition{
		Jobs: []JobDefinition{scriptJob("Slow", "sleep 5")},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newTestDispatcher(nil)
	run := d.Dispatch(ctx, def, Instances(def), Trigger{Source: "manual"})

	assert.Equal(t, StatusFailed, run.Status, "a cancelled job counts as failed at the run level")
	assert.Equal(t, StatusCancelled, run.Jobs["Slow"].Status)
}

func TestRunFailureClassPrecedence(t *testing.T) {
	run := &PipelineRunResult{Jobs: map[string]*JobResult{
		"a": {Steps: []StepResult{{Status: StatusFailed, Failure: FailureExitCode}}},
		"b": {Steps: []StepResult{{Status: StatusFailed, Failure: FailureUnknownTask}}},
	}}
	assert.Equal(t, FailureUnknownTask, run.FailureClass())

	run = &PipelineRunResult{Jobs: map[string]*JobResult{
		"a": {Steps: []StepResult{{Status: StatusSucceeded}}},
	}}
	assert.Equal(t, FailureNone, run.FailureClass())
}
