package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() *Executor {
	return NewExecutor(DefaultTaskRegistry(nil))
}

func TestScriptCapturesCombinedOutput(t *testing.T) {
	e := newTestExecutor()
	env := NewEnvironment(nil)

	res := e.Execute(context.Background(), StepDefinition{
		Script:      "echo out; echo err 1>&2",
		DisplayName: "Combined",
	}, env)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "out")
	assert.Contains(t, res.Output, "err")
	assert.Equal(t, "Combined", res.Step)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestScriptFailureIsReportedNotThrown(t *testing.T) {
	e := newTestExecutor()

	res := e.Execute(context.Background(), StepDefinition{Script: "echo boom; exit 1"}, NewEnvironment(nil))

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, FailureExitCode, res.Failure)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "boom")
}

func TestScriptTimeoutTaggedAsTimeout(t *testing.T) {
	e := newTestExecutor()
	e.DefaultTimeout = 50 * time.Millisecond

	start := time.Now()
	res := e.Execute(context.Background(), StepDefinition{Script: "sleep 5"}, NewEnvironment(nil))

	assert.Less(t, time.Since(start), 3*time.Second, "a timed-out step must not outlive its timeout")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, FailureTimeout, res.Failure)
	assert.Contains(t, res.Error, "timeout")
}

func TestScriptTimeoutKillsForkedChildren(t *testing.T) {
	e := newTestExecutor()
	e.DefaultTimeout = 50 * time.Millisecond

	start := time.Now()
	res := e.Execute(context.Background(), StepDefinition{Script: "sleep 30 & sleep 30"}, NewEnvironment(nil))

	assert.Less(t, time.Since(start), 3*time.Second, "backgrounded children must be killed with the step")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, FailureTimeout, res.Failure)
}

func TestScriptCancellation(t *testing.T) {
	e := newTestExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res := e.Execute(ctx, StepDefinition{Script: "sleep 5"}, NewEnvironment(nil))
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, FailureNone, res.Failure)
}

func TestScriptCancellationKillsProcessTree(t *testing.T) {
	e := newTestExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := e.Execute(ctx, StepDefinition{Script: "sleep 30 & sleep 30"}, NewEnvironment(nil))

	assert.Less(t, time.Since(start), 3*time.Second,
		"cancellation must terminate the whole process group, not just the shell")
	assert.Equal(t, StatusCancelled, res.Status)
}

func TestScriptSeesJobAndStepEnv(t *testing.T) {
	e := newTestExecutor()
	env := NewEnvironment(map[string]string{"python.version": "3.7"})

	res := e.Execute(context.Background(), StepDefinition{
		Script: `echo "$PYTHON_VERSION-$EXTRA"`,
		Env:    map[string]string{"EXTRA": "bar"},
	}, env)

	require.Equal(t, StatusSucceeded, res.Status)
	assert.Contains(t, res.Output, "3.7-bar")
}

func TestUnknownTaskFailsStep(t *testing.T) {
	e := newTestExecutor()

	res := e.Execute(context.Background(), StepDefinition{Task: "Bogus@1"}, NewEnvironment(nil))

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, FailureUnknownTask, res.Failure)
	assert.Contains(t, res.Error, `unknown task "Bogus@1"`)
}

func TestUseRuntimeVersionContributesToJobEnv(t *testing.T) {
	e := newTestExecutor()
	env := NewEnvironment(map[string]string{"python.version": "3.7"})

	res := e.Execute(context.Background(), StepDefinition{
		Task:   "UseRuntimeVersion@0",
		Inputs: map[string]string{"versionSpec": "$(python.version)"},
	}, env)

	require.Equal(t, StatusSucceeded, res.Status)
	got, ok := env.Lookup("RUNTIME_VERSION")
	require.True(t, ok)
	assert.Equal(t, "3.7", got)
}

func TestPublishTestResultsMissingArtifact(t *testing.T) {
	e := newTestExecutor()

	res := e.Execute(context.Background(), StepDefinition{
		Task:   "PublishTestResults@2",
		Inputs: map[string]string{"testResultsFiles": filepath.Join(t.TempDir(), "missing.xml")},
	}, NewEnvironment(nil))

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, FailureArtifactMissing, res.Failure)
}

func TestCmdLineTaskRunsShell(t *testing.T) {
	e := newTestExecutor()

	res := e.Execute(context.Background(), StepDefinition{
		Task:   "CmdLine@2",
		Inputs: map[string]string{"script": "echo from-task"},
	}, NewEnvironment(nil))

	require.Equal(t, StatusSucceeded, res.Status)
	assert.Contains(t, res.Output, "from-task")
}

func TestTaskHandlerErrorClassifiedAsTaskFailure(t *testing.T) {
	e := newTestExecutor()

	// missing required input
	res := e.Execute(context.Background(), StepDefinition{Task: "UseRuntimeVersion@0"}, NewEnvironment(nil))

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, FailureTask, res.Failure)
}

func TestEnvironmentExpand(t *testing.T) {
	env := NewEnvironment(map[string]string{"python.version": "3.7"})
	env.Set("NAME", "boxci")

	assert.Equal(t, "py 3.7", env.Expand("py $(python.version)"))
	assert.Equal(t, "boxci/3.7", env.Expand("$(NAME)/$(python.version)"))
	assert.Equal(t, "$(unknown)", env.Expand("$(unknown)"))
	assert.Equal(t, "plain", env.Expand("plain"))
}

func TestEnvironmentSnapshotShellNames(t *testing.T) {
	env := NewEnvironment(map[string]string{"python.version": "3.7"})
	env.Set("my-var", "x")

	snap := env.Snapshot()
	assert.Contains(t, snap, "PYTHON_VERSION=3.7")
	assert.Contains(t, snap, "MY_VAR=x")
}
