package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"boxci/internal/core"
	"boxci/internal/publish"
	"boxci/internal/storage"
)

type runOptions struct {
	job          string
	matrixFilter string
	maxParallel  int
	logDir       string
	resultsDir   string
	publishURL   string
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run <pipeline-file>",
		Short: "run a pipeline definition",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			exitCode = runPipeline(args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.job, "job", "", "run only the named job")
	cmd.Flags().StringVar(&opts.matrixFilter, "matrix-filter", "", "run only instances with this axis=value assignment")
	cmd.Flags().IntVar(&opts.maxParallel, "max-parallel", 0, "bound on concurrently running jobs (0 = unbounded)")
	cmd.Flags().StringVar(&opts.logDir, "log-dir", "./logs", "directory for job output logs")
	cmd.Flags().StringVar(&opts.resultsDir, "results-dir", "", "directory test-result artifacts are published into")
	cmd.Flags().StringVar(&opts.publishURL, "publish-url", "", "collector endpoint test-result artifacts are posted to")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline-file>",
		Short: "parse and validate a pipeline definition",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			def, err := core.Load(args[0])
			if err != nil {
				log.Error().Err(err).Msg("pipeline definition is invalid")
				exitCode = exitParseError
				return
			}
			fmt.Printf("%s: %d job(s), %d schedule(s), ok\n", args[0], len(def.Jobs), len(def.Schedules))
		},
	}
}

func runPipeline(path string, opts runOptions) int {
	def, err := core.Load(path)
	if err != nil {
		log.Error().Err(err).Msg("cannot load pipeline")
		return exitParseError
	}

	instances := core.Instances(def)
	if opts.job != "" {
		instances = filterByJob(instances, opts.job)
		if len(instances) == 0 {
			log.Error().Str("job", opts.job).Msg("no such job in pipeline")
			return exitParseError
		}
	}
	if opts.matrixFilter != "" {
		axis, value, ok := strings.Cut(opts.matrixFilter, "=")
		if !ok {
			log.Error().Str("filter", opts.matrixFilter).Msg("matrix filter must be axis=value")
			return exitParseError
		}
		instances = core.FilterInstances(instances, axis, value)
		if len(instances) == 0 {
			log.Error().Str("filter", opts.matrixFilter).Msg("no instance matches the matrix filter")
			return exitParseError
		}
	}

	registry := core.DefaultTaskRegistry(newPublisher(opts))
	runner := core.NewJobRunner(core.NewExecutor(registry), storage.NewLogStorage(opts.logDir))
	dispatcher := core.NewDispatcher(runner, core.NewPool(opts.maxParallel))

	// Ctrl-C cancels all running jobs; their in-flight processes are
	// terminated and the run reports Cancelled steps.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := dispatcher.Dispatch(ctx, def, instances, core.Trigger{Source: "manual"})
	printSummary(run)
	return exitCodeFor(run)
}

func newPublisher(opts runOptions) publish.Publisher {
	switch {
	case opts.publishURL != "":
		return publish.NewHTTPPublisher(opts.publishURL)
	case opts.resultsDir != "":
		return publish.NewDirPublisher(opts.resultsDir)
	default:
		return publish.Discard{}
	}
}

func filterByJob(instances []core.JobInstance, job string) []core.JobInstance {
	var kept []core.JobInstance
	for _, inst := range instances {
		if inst.Job.Name == job {
			kept = append(kept, inst)
		}
	}
	return kept
}

func printSummary(run *core.PipelineRunResult) {
	fmt.Printf("\nrun %s: %s (%s)\n", run.ID, run.Status, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))

	names := make([]string, 0, len(run.Jobs))
	for name := range run.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		job := run.Jobs[name]
		fmt.Printf("  %-40s %s\n", job.Instance, job.Status)
		for _, step := range job.Steps {
			suffix := ""
			if step.Failure != core.FailureNone {
				suffix = fmt.Sprintf(" (%s)", step.Failure)
			}
			fmt.Printf("    %-38s %s%s\n", step.Step, step.Status, suffix)
		}
	}
}

func exitCodeFor(run *core.PipelineRunResult) int {
	if run.Status == core.StatusSucceeded {
		return exitOK
	}
	switch run.FailureClass() {
	case core.FailureUnknownTask:
		return exitUnknownTask
	case core.FailureArtifactMissing:
		return exitNoArtifact
	default:
		return exitFailure
	}
}
