package core

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// PipelineDefinition is the entire in-memory pipeline: an ordered set of
// jobs plus zero or more cron schedules. It is loaded once and never
// mutated afterwards.
type PipelineDefinition struct {
	Name      string               `yaml:"name,omitempty" json:"name,omitempty"`
	Pool      string               `yaml:"pool,omitempty" json:"pool,omitempty"` // default image for jobs without one
	Jobs      []JobDefinition      `yaml:"jobs" json:"jobs"`
	Schedules []ScheduleDefinition `yaml:"schedules,omitempty" json:"schedules,omitempty"`
}

// JobDefinition is an independently schedulable unit of sequential steps.
type JobDefinition struct {
	Name     string           `yaml:"job" json:"job"`
	Pool     string           `yaml:"pool,omitempty" json:"pool,omitempty"`
	Strategy *Strategy        `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Steps    []StepDefinition `yaml:"steps" json:"steps"`
}

// Strategy carries the parameter matrix for a job.
type Strategy struct {
	Matrix MatrixSpec `yaml:"matrix,omitempty" json:"matrix,omitempty"`
}

// StepDefinition is a single executable action. Exactly one of Script or
// Task must be set.
type StepDefinition struct {
	Script           string            `yaml:"script,omitempty" json:"script,omitempty"`
	Task             string            `yaml:"task,omitempty" json:"task,omitempty"`
	Inputs           map[string]string `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	DisplayName      string            `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Env              map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	TimeoutInMinutes int               `yaml:"timeoutInMinutes,omitempty" json:"timeoutInMinutes,omitempty"`
}

// IsScript reports whether the step runs a shell script (as opposed to a
// registered task).
func (s *StepDefinition) IsScript() bool {
	return s.Script != ""
}

// Name returns the display name, falling back to the task identifier or a
// generic script label.
func (s *StepDefinition) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	if s.Task != "" {
		return s.Task
	}
	return "CmdLine"
}

// ScheduleDefinition is a cron trigger attached to the pipeline.
type ScheduleDefinition struct {
	Cron        string        `yaml:"cron" json:"cron"`
	DisplayName string        `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Branches    BranchFilters `yaml:"branches,omitempty" json:"branches,omitempty"`
}

// BranchFilters selects which branches a schedule applies to. Entries are
// glob patterns; an empty include list matches every branch.
type BranchFilters struct {
	Include []string `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// MatrixAxis is one named parameter with its value set.
type MatrixAxis struct {
	Name   string
	Values []string
}

// MatrixSpec maps axis names to value sets. Axis declaration order is
// significant (it drives expansion order), so the spec is kept as a slice
// rather than a map.
type MatrixSpec struct {
	Axes []MatrixAxis
}

// Empty reports whether the matrix declares no axes.
func (m MatrixSpec) Empty() bool {
	return len(m.Axes) == 0
}

// UnmarshalYAML decodes a YAML mapping into axes, preserving the order the
// axes were declared in.
func (m *MatrixSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("matrix must be a mapping of axis name to values")
	}
	m.Axes = nil
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]

		axis := MatrixAxis{Name: keyNode.Value}
		switch valNode.Kind {
		case yaml.SequenceNode:
			if err := valNode.Decode(&axis.Values); err != nil {
				return fmt.Errorf("matrix axis %q: %w", axis.Name, err)
			}
		case yaml.ScalarNode:
			// single value shorthand
			axis.Values = []string{valNode.Value}
		default:
			return fmt.Errorf("matrix axis %q: values must be a scalar or a list", axis.Name)
		}
		m.Axes = append(m.Axes, axis)
	}
	return nil
}

// MarshalYAML emits the axes as a mapping in declared order so a definition
// survives a serialize/parse round trip unchanged.
func (m MatrixSpec) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, axis := range m.Axes {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: axis.Name}
		valNode := &yaml.Node{}
		if err := valNode.Encode(axis.Values); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

// Validate checks the structural invariants of a loaded definition:
// unique job names, non-empty step sequences, exactly one of script/task
// per step, non-empty matrix axes and parseable cron expressions.
func (p *PipelineDefinition) Validate() error {
	if len(p.Jobs) == 0 {
		return fmt.Errorf("pipeline declares no jobs")
	}

	seen := make(map[string]bool, len(p.Jobs))
	for _, job := range p.Jobs {
		if job.Name == "" {
			return fmt.Errorf("job without a name")
		}
		if seen[job.Name] {
			return fmt.Errorf("duplicate job name %q", job.Name)
		}
		seen[job.Name] = true

		if len(job.Steps) == 0 {
			return fmt.Errorf("job %q has no steps", job.Name)
		}
		for i, step := range job.Steps {
			if step.Script == "" && step.Task == "" {
				return fmt.Errorf("job %q step %d: neither script nor task set", job.Name, i+1)
			}
			if step.Script != "" && step.Task != "" {
				return fmt.Errorf("job %q step %d: both script and task set", job.Name, i+1)
			}
			if step.TimeoutInMinutes < 0 {
				return fmt.Errorf("job %q step %d: negative timeout", job.Name, i+1)
			}
		}
		if job.Strategy != nil {
			for _, axis := range job.Strategy.Matrix.Axes {
				if len(axis.Values) == 0 {
					return fmt.Errorf("job %q: matrix axis %q has no values", job.Name, axis.Name)
				}
			}
		}
	}

	for _, sched := range p.Schedules {
		if _, err := cron.ParseStandard(sched.Cron); err != nil {
			return fmt.Errorf("schedule %q: invalid cron expression %q: %w", sched.DisplayName, sched.Cron, err)
		}
	}
	return nil
}
