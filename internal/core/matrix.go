package core

import (
	"fmt"
	"strings"
	"unicode"
)

// Assignment binds one matrix axis to a concrete value.
type Assignment struct {
	Axis  string `json:"axis"`
	Value string `json:"value"`
}

// JobInstance is a JobDefinition bound to one matrix assignment. Instances
// are created by Expand at dispatch time and owned by the dispatcher for
// the duration of a single run.
type JobInstance struct {
	Name       string        `json:"name"` // display name, unique within a run
	Job        JobDefinition `json:"-"`
	Pool       string        `json:"pool,omitempty"`
	Assignment []Assignment  `json:"assignment,omitempty"`
}

// SeedEnv returns the environment variables implied by the instance's
// matrix assignment, keyed by the raw axis name (e.g. "python.version").
// The executor converts keys to shell style when spawning processes.
func (ji JobInstance) SeedEnv() map[string]string {
	if len(ji.Assignment) == 0 {
		return nil
	}
	env := make(map[string]string, len(ji.Assignment))
	for _, a := range ji.Assignment {
		env[a.Axis] = a.Value
	}
	return env
}

// Expand computes the cartesian product of a job's matrix axes, one
// JobInstance per combination. Combinations are produced in row-major
// order of axis declaration: the first axis varies slowest. A job without
// a matrix expands to exactly one instance with an empty assignment.
func Expand(job JobDefinition) []JobInstance {
	if job.Strategy == nil || job.Strategy.Matrix.Empty() {
		return []JobInstance{{Name: job.Name, Job: job, Pool: job.Pool}}
	}

	axes := job.Strategy.Matrix.Axes
	total := 1
	for _, axis := range axes {
		total *= len(axis.Values)
	}

	instances := make([]JobInstance, 0, total)
	indices := make([]int, len(axes))
	for n := 0; n < total; n++ {
		assignment := make([]Assignment, len(axes))
		for i, axis := range axes {
			assignment[i] = Assignment{Axis: axis.Name, Value: axis.Values[indices[i]]}
		}
		instances = append(instances, JobInstance{
			Name:       instanceName(job.Name, assignment),
			Job:        job,
			Pool:       job.Pool,
			Assignment: assignment,
		})

		// odometer increment, last axis fastest
		for i := len(indices) - 1; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(axes[i].Values) {
				break
			}
			indices[i] = 0
		}
	}
	return instances
}

// FilterInstances keeps only the instances whose assignment binds axis to
// value. Used by the CLI's --matrix-filter flag.
func FilterInstances(instances []JobInstance, axis, value string) []JobInstance {
	var kept []JobInstance
	for _, inst := range instances {
		for _, a := range inst.Assignment {
			if a.Axis == axis && a.Value == value {
				kept = append(kept, inst)
				break
			}
		}
	}
	return kept
}

// instanceName suffixes the job name with a label per axis assignment,
// e.g. job "Flake8" with python.version=3.7 becomes "Flake8 (Python37)".
func instanceName(job string, assignment []Assignment) string {
	labels := make([]string, len(assignment))
	for i, a := range assignment {
		labels[i] = axisLabel(a.Axis, a.Value)
	}
	return fmt.Sprintf("%s (%s)", job, strings.Join(labels, " "))
}

// axisLabel renders one assignment as a compact label: the title-cased
// first dotted segment of the axis name followed by the value with
// non-alphanumeric characters stripped ("python.version"+"3.7" -> "Python37").
func axisLabel(axis, value string) string {
	name := axis
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	var b strings.Builder
	for i, r := range name {
		if i == 0 {
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		b.WriteRune(r)
	}
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
