package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxFrameBytes = 16 << 20 // refuse absurd frame payloads

// HTTPFetcher resolves http(s) frame URIs. Object storage is expected to
// serve frames over pre-signed or internal URLs.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with a bounded request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads the frame bytes at the URI.
func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build frame request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch frame: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("frame fetch returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	if len(data) > maxFrameBytes {
		return nil, fmt.Errorf("frame exceeds %d byte limit", maxFrameBytes)
	}
	return data, nil
}
