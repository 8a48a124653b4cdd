package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"boxci/pkg/utils"
)

// DirPublisher copies artifacts into a results directory and records each
// one in a JSONL manifest alongside its content digest.
type DirPublisher struct {
	mu  sync.Mutex
	dir string
}

// manifestEntry is one line of manifest.jsonl.
type manifestEntry struct {
	Artifact
	Digest      string    `json:"digest"`
	StoredAs    string    `json:"storedAs"`
	PublishedAt time.Time `json:"publishedAt"`
}

func NewDirPublisher(dir string) *DirPublisher {
	return &DirPublisher{dir: dir}
}

func (p *DirPublisher) Publish(ctx context.Context, a Artifact) error {
	if err := checkReadable(a.Path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(p.dir, 0o775); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}

	digest, err := utils.HashFile(a.Path)
	if err != nil {
		return &ArtifactNotFoundError{Path: a.Path, Err: err}
	}

	storedAs := fmt.Sprintf("%s_%s_%s", sanitize(a.Instance), digest[:12], filepath.Base(a.Path))
	if err := copyFile(a.Path, filepath.Join(p.dir, storedAs)); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}

	entry := manifestEntry{
		Artifact:    a,
		Digest:      digest,
		StoredAs:    storedAs,
		PublishedAt: time.Now().UTC(),
	}
	f, err := os.OpenFile(filepath.Join(p.dir, "manifest.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(entry); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// sanitize keeps filename-safe characters from instance names like
// "Flake8 (Python37)".
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			clean = append(clean, r)
		case r == ' ':
			clean = append(clean, '_')
		}
	}
	if len(clean) == 0 {
		return "artifact"
	}
	return string(clean)
}
