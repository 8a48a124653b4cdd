// Package storage persists job-scoped output logs as steps complete.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogStorage appends step output to one log file per job instance.
type LogStorage struct {
	BaseDir string
}

// NewLogStorage creates a log storage handler rooted at baseDir.
func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir}
}

// Append writes a step's output to the instance's log file, creating the
// directory and file as needed. Satisfies core.RunLog.
func (ls *LogStorage) Append(instance, step, output string) error {
	if err := os.MkdirAll(ls.BaseDir, 0o775); err != nil {
		return err
	}

	path := ls.Path(instance)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "=== %s ===\n%s", step, output); err != nil {
		return err
	}
	if len(output) > 0 && output[len(output)-1] != '\n' {
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the log file for a job instance.
func (ls *LogStorage) Path(instance string) string {
	return filepath.Join(ls.BaseDir, sanitize(instance)+".log")
}

// sanitize removes special characters from instance names for filenames.
func sanitize(name string) string {
	clean := ""
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_':
			clean += string(r)
		case r == ' ':
			clean += "_"
		}
	}
	if clean == "" {
		return "job"
	}
	return clean
}
