package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseError means the pipeline definition could not be loaded. It is the
// only fatal error class: a pipeline that fails to parse never runs.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("parse pipeline: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse decodes YAML content into a validated PipelineDefinition. Unknown
// keys are tolerated for forward compatibility; structural violations
// (missing job names, empty step lists, bad cron expressions) are not.
func Parse(data []byte) (*PipelineDefinition, error) {
	var pipeline PipelineDefinition
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, &ParseError{Err: err}
	}
	if err := pipeline.Validate(); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &pipeline, nil
}

// Load reads a pipeline definition file and parses it.
func Load(path string) (*PipelineDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	pipeline, err := Parse(data)
	if err != nil {
		if perr, ok := err.(*ParseError); ok {
			perr.Path = path
		}
		return nil, err
	}
	return pipeline, nil
}

// Marshal serializes a definition back to YAML. Parse(Marshal(p)) yields a
// definition equal to p.
func Marshal(p *PipelineDefinition) ([]byte, error) {
	return yaml.Marshal(p)
}
