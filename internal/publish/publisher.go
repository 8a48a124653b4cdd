// Package publish is the result-publisher collaborator: it ingests test
// result artifacts declared by pipeline steps. The engine only guarantees
// the artifact existed and was readable at publish time; what happens to
// it afterwards is up to the chosen implementation.
package publish

import (
	"context"
	"fmt"
	"os"
)

// Artifact is one declared test-result file.
type Artifact struct {
	Instance string `json:"instance"`        // owning job instance
	Path     string `json:"path"`            // result file on disk
	Format   string `json:"format"`          // format tag, e.g. "JUnit"
	Title    string `json:"title,omitempty"` // test run title
}

// ArtifactNotFoundError means the declared result file was missing or
// unreadable at publish time. It fails the publishing step only.
type ArtifactNotFoundError struct {
	Path string
	Err  error
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("result artifact %s not found: %v", e.Path, e.Err)
}

func (e *ArtifactNotFoundError) Unwrap() error {
	return e.Err
}

// Publisher ingests artifacts for downstream reporting.
type Publisher interface {
	Publish(ctx context.Context, a Artifact) error
}

// checkReadable verifies the artifact file exists and is a readable
// regular file, wrapping failures in ArtifactNotFoundError.
func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &ArtifactNotFoundError{Path: path, Err: err}
	}
	if info.IsDir() {
		return &ArtifactNotFoundError{Path: path, Err: fmt.Errorf("is a directory")}
	}
	f, err := os.Open(path)
	if err != nil {
		return &ArtifactNotFoundError{Path: path, Err: err}
	}
	_ = f.Close()
	return nil
}

// Discard is a Publisher that validates the artifact and drops it. Used
// when no results directory or collector endpoint is configured.
type Discard struct{}

func (Discard) Publish(_ context.Context, a Artifact) error {
	return checkReadable(a.Path)
}
