package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"boxci/internal/publish"
)

// DefaultStepTimeout bounds steps that do not declare their own timeout.
const DefaultStepTimeout = 60 * time.Minute

// Executor runs single pipeline steps: shell scripts as child processes,
// tasks via the registered handler for their identifier.
type Executor struct {
	Tasks          *TaskRegistry
	DefaultTimeout time.Duration
}

func NewExecutor(tasks *TaskRegistry) *Executor {
	return &Executor{
		Tasks:          tasks,
		DefaultTimeout: DefaultStepTimeout,
	}
}

// Execute runs one step against the job environment and returns its
// result. Failures (non-zero exit, timeout, unknown task, handler error)
// are reported in the result, never returned: only the surrounding
// context's cancellation shows up as a Cancelled status.
func (e *Executor) Execute(ctx context.Context, step StepDefinition, env *Environment) StepResult {
	res := StepResult{
		Step:      step.Name(),
		StartedAt: time.Now().UTC(),
	}

	if step.IsScript() {
		e.runScript(ctx, step, env, &res)
	} else {
		e.runTask(ctx, step, env, &res)
	}

	res.FinishedAt = time.Now().UTC()
	return res
}

func (e *Executor) runScript(ctx context.Context, step StepDefinition, env *Environment, res *StepResult) {
	timeout := e.DefaultTimeout
	if step.TimeoutInMinutes > 0 {
		timeout = time.Duration(step.TimeoutInMinutes) * time.Minute
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, exitCode, err := runShell(stepCtx, step.Script, childEnv(env, step.Env))
	res.Output = output
	res.ExitCode = exitCode

	switch {
	case ctx.Err() != nil:
		// external cancellation, not a failure for reporting purposes
		res.Status = StatusCancelled
		res.Error = ctx.Err().Error()
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		res.Status = StatusFailed
		res.Failure = FailureTimeout
		res.Error = "step exceeded timeout of " + timeout.String()
	case err != nil:
		res.Status = StatusFailed
		res.Failure = FailureExitCode
		res.Error = err.Error()
	default:
		res.Status = StatusSucceeded
	}
}

func (e *Executor) runTask(ctx context.Context, step StepDefinition, env *Environment, res *StepResult) {
	handler, ok := e.Tasks.Lookup(step.Task)
	if !ok {
		res.Status = StatusFailed
		res.Failure = FailureUnknownTask
		res.ExitCode = -1
		res.Error = (&UnknownTaskError{Task: step.Task}).Error()
		return
	}

	tc := &TaskContext{
		Step:      step,
		Inputs:    step.Inputs,
		Env:       env,
		Publisher: e.Tasks.publisher,
	}
	output, err := handler(ctx, tc)
	res.Output = output

	var notFound *publish.ArtifactNotFoundError
	switch {
	case err == nil:
		res.Status = StatusSucceeded
	case ctx.Err() != nil:
		res.Status = StatusCancelled
		res.Error = ctx.Err().Error()
	case errors.As(err, &notFound):
		res.Status = StatusFailed
		res.Failure = FailureArtifactMissing
		res.ExitCode = -1
		res.Error = err.Error()
	default:
		res.Status = StatusFailed
		res.Failure = FailureTask
		res.ExitCode = -1
		res.Error = err.Error()
	}
}

// runShell executes a command body with "sh -c", capturing combined
// stdout/stderr. The exit code is -1 when the process did not run or was
// killed by a signal.
func runShell(ctx context.Context, script string, env []string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Env = env

	// the script's children inherit the output pipe; run the whole tree
	// in its own process group so cancellation kills it entirely, and cap
	// how long Wait may block on pipes held by surviving processes
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}
	return out.String(), exitCode, err
}

// childEnv builds the child process environment: the engine's own
// environment, then the job-level variables, then step-local bindings.
// Later entries win on duplicate keys.
func childEnv(env *Environment, stepEnv map[string]string) []string {
	merged := NewEnvironment(nil)
	for k, v := range stepEnv {
		merged.Set(k, v)
	}
	vars := os.Environ()
	vars = append(vars, env.Snapshot()...)
	vars = append(vars, merged.Snapshot()...)
	return vars
}
