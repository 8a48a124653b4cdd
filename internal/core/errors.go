package core

import "fmt"

// UnknownTaskError means a step referenced a task identifier that no
// handler is registered for. It fails the step (and therefore the job) but
// never aborts sibling jobs.
type UnknownTaskError struct {
	Task string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %q", e.Task)
}
