package core

import (
	"fmt"
	"sort"
	"strings"
)

// Environment is the per-job variable mapping. It is seeded from the
// matrix assignment when the job starts and is mutated only by the job
// runner and by task handlers running inside that job, so it needs no
// locking: no two jobs ever share one.
type Environment struct {
	vars map[string]string
}

// NewEnvironment builds an environment from a seed map (may be nil).
func NewEnvironment(seed map[string]string) *Environment {
	vars := make(map[string]string, len(seed))
	for k, v := range seed {
		vars[k] = v
	}
	return &Environment{vars: vars}
}

// Set binds a variable for the remainder of the job.
func (e *Environment) Set(key, value string) {
	e.vars[key] = value
}

// Lookup returns the value bound to key.
func (e *Environment) Lookup(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

// Expand substitutes $(name) references with the bound values, the way the
// definition format references matrix variables (e.g. "$(python.version)").
// Unknown references are left untouched.
func (e *Environment) Expand(s string) string {
	if !strings.Contains(s, "$(") {
		return s
	}
	var b strings.Builder
	for {
		start := strings.Index(s, "$(")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.IndexByte(s[start:], ')')
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[start+2 : start+end]
		b.WriteString(s[:start])
		if v, ok := e.vars[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : start+end+1])
		}
		s = s[start+end+1:]
	}
}

// Snapshot renders the environment as KEY=value pairs suitable for a child
// process, converting dotted variable names to shell style
// ("python.version" -> "PYTHON_VERSION"). The order is deterministic.
func (e *Environment) Snapshot() []string {
	pairs := make([]string, 0, len(e.vars))
	for k, v := range e.vars {
		pairs = append(pairs, fmt.Sprintf("%s=%s", shellVarName(k), v))
	}
	sort.Strings(pairs)
	return pairs
}

func shellVarName(name string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(name))
}
