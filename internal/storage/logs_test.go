package storage

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesPerInstanceLog(t *testing.T) {
	ls := NewLogStorage(t.TempDir())

	require.NoError(t, ls.Append("Flake8 (Python37)", "Run flake8", "all clean\n"))
	require.NoError(t, ls.Append("Flake8 (Python37)", "Publish", "done"))

	data, err := os.ReadFile(ls.Path("Flake8 (Python37)"))
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "=== Run flake8 ===\nall clean\n")
	assert.Contains(t, content, "=== Publish ===\ndone\n")
	assert.Less(t,
		strings.Index(content, "Run flake8"), strings.Index(content, "Publish"),
		"steps are appended in completion order")
}

func TestSeparateInstancesGetSeparateFiles(t *testing.T) {
	ls := NewLogStorage(t.TempDir())

	require.NoError(t, ls.Append("A", "step", "a\n"))
	require.NoError(t, ls.Append("B", "step", "b\n"))

	assert.NotEqual(t, ls.Path("A"), ls.Path("B"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "Flake8_Python37", sanitize("Flake8 (Python37)"))
	assert.Equal(t, "job", sanitize("()"))
	assert.Equal(t, "my-job_1", sanitize("my-job_1"))
}
