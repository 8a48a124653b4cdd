package core

import (
	"context"
	"fmt"

	"boxci/internal/publish"
)

// TaskContext is what a task handler gets to work with: the step's raw
// inputs, the mutable job environment and the result publisher. Handlers
// are the one sanctioned way a step contributes variables to subsequent
// steps in the same job.
type TaskContext struct {
	Step      StepDefinition
	Inputs    map[string]string
	Env       *Environment
	Publisher publish.Publisher
}

// input returns a step input with $(var) references expanded against the
// job environment.
func (tc *TaskContext) input(key string) string {
	return tc.Env.Expand(tc.Inputs[key])
}

// TaskHandler executes one built-in task and returns its captured output.
type TaskHandler func(ctx context.Context, tc *TaskContext) (string, error)

// TaskRegistry maps task identifiers (e.g. "PublishTestResults@2") to
// handlers. Lookup failure is an UnknownTaskError at the call site.
type TaskRegistry struct {
	handlers  map[string]TaskHandler
	publisher publish.Publisher
}

// NewTaskRegistry creates an empty registry publishing through pub.
func NewTaskRegistry(pub publish.Publisher) *TaskRegistry {
	if pub == nil {
		pub = publish.Discard{}
	}
	return &TaskRegistry{
		handlers:  make(map[string]TaskHandler),
		publisher: pub,
	}
}

// DefaultTaskRegistry returns a registry with all built-in tasks.
func DefaultTaskRegistry(pub publish.Publisher) *TaskRegistry {
	r := NewTaskRegistry(pub)
	r.Register("UseRuntimeVersion@0", useRuntimeVersion)
	r.Register("PublishTestResults@2", publishTestResults)
	r.Register("CmdLine@2", cmdLine)
	return r
}

func (r *TaskRegistry) Register(id string, h TaskHandler) {
	r.handlers[id] = h
}

func (r *TaskRegistry) Lookup(id string) (TaskHandler, bool) {
	h, ok := r.handlers[id]
	return h, ok
}

// useRuntimeVersionInputs is the typed payload of UseRuntimeVersion@0.
type useRuntimeVersionInputs struct {
	VersionSpec string
}

// useRuntimeVersion selects a runtime version and contributes
// RUNTIME_VERSION to the job environment so later script steps see it.
func useRuntimeVersion(_ context.Context, tc *TaskContext) (string, error) {
	in := useRuntimeVersionInputs{VersionSpec: tc.input("versionSpec")}
	if in.VersionSpec == "" {
		return "", fmt.Errorf("versionSpec input is required")
	}
	tc.Env.Set("RUNTIME_VERSION", in.VersionSpec)
	return fmt.Sprintf("selected runtime version %s\n", in.VersionSpec), nil
}

// publishTestResultsInputs is the typed payload of PublishTestResults@2.
type publishTestResultsInputs struct {
	TestResultsFiles  string
	TestResultsFormat string
	TestRunTitle      string
}

// publishTestResults hands the declared result file to the publisher. A
// missing file fails this step only (ArtifactNotFoundError).
func publishTestResults(ctx context.Context, tc *TaskContext) (string, error) {
	in := publishTestResultsInputs{
		TestResultsFiles:  tc.input("testResultsFiles"),
		TestResultsFormat: tc.input("testResultsFormat"),
		TestRunTitle:      tc.input("testRunTitle"),
	}
	if in.TestResultsFiles == "" {
		return "", fmt.Errorf("testResultsFiles input is required")
	}
	if in.TestResultsFormat == "" {
		in.TestResultsFormat = "JUnit"
	}

	instance, _ := tc.Env.Lookup("BOXCI_INSTANCE")
	artifact := publish.Artifact{
		Instance: instance,
		Path:     in.TestResultsFiles,
		Format:   in.TestResultsFormat,
		Title:    in.TestRunTitle,
	}
	if err := tc.Publisher.Publish(ctx, artifact); err != nil {
		return "", err
	}
	return fmt.Sprintf("published %s results from %s\n", in.TestResultsFormat, in.TestResultsFiles), nil
}

// cmdLine is the task-flavored twin of a script step: it runs the "script"
// input through the shell with the job environment.
func cmdLine(ctx context.Context, tc *TaskContext) (string, error) {
	script := tc.input("script")
	if script == "" {
		return "", fmt.Errorf("script input is required")
	}
	output, exitCode, err := runShell(ctx, script, childEnv(tc.Env, tc.Step.Env))
	if err != nil {
		return output, fmt.Errorf("command exited with code %d", exitCode)
	}
	return output, nil
}
