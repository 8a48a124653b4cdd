// Package history keeps a durable record of finished pipeline runs as an
// append-only JSONL file, one run result per line.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"boxci/internal/core"
)

// Journal is the run history backed by a JSONL file. The file is created
// on open if missing.
type Journal struct {
	mu   sync.Mutex
	path string
	runs []*core.PipelineRunResult
}

// Open loads an existing journal file or starts an empty one.
func Open(path string) (*Journal, error) {
	j := &Journal{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		_ = f.Close()
		return j, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return j, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var run core.PipelineRunResult
		if err := dec.Decode(&run); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		j.runs = append(j.runs, &run)
	}
	return j, nil
}

// Append persists a finished run and keeps it in memory.
func (j *Journal) Append(run *core.PipelineRunResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(run); err != nil {
		return fmt.Errorf("write journal file: %w", err)
	}
	j.runs = append(j.runs, run)
	return nil
}

// Runs returns all recorded runs, oldest first.
func (j *Journal) Runs() []*core.PipelineRunResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*core.PipelineRunResult, len(j.runs))
	copy(out, j.runs)
	return out
}

// Find returns the run with the given id, or nil.
func (j *Journal) Find(id string) *core.PipelineRunResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, run := range j.runs {
		if run.ID == id {
			return run
		}
	}
	return nil
}

// Latest returns the most recently appended run, or nil when empty.
func (j *Journal) Latest() *core.PipelineRunResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.runs) == 0 {
		return nil
	}
	return j.runs[len(j.runs)-1]
}
