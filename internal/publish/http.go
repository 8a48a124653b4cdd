package publish

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPPublisher posts artifacts to a collector endpoint. Transient
// failures are retried with backoff.
type HTTPPublisher struct {
	url    string
	client *retryablehttp.Client
}

func NewHTTPPublisher(url string) *HTTPPublisher {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &HTTPPublisher{url: url, client: client}
}

func (p *HTTPPublisher) Publish(ctx context.Context, a Artifact) error {
	if err := checkReadable(a.Path); err != nil {
		return err
	}

	data, err := os.ReadFile(a.Path)
	if err != nil {
		return &ArtifactNotFoundError{Path: a.Path, Err: err}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Boxci-Instance", a.Instance)
	req.Header.Set("X-Boxci-Format", a.Format)
	if a.Title != "" {
		req.Header.Set("X-Boxci-Title", a.Title)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("publish to %s: unexpected status %s", p.url, resp.Status)
	}
	return nil
}
