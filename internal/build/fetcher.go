package build

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/version"
)

// maxRemoteModuleSize bounds a single remote module download.
const maxRemoteModuleSize = 32 << 20

// FetchResult is the body of a remote module and the server's content
// type hint.
type FetchResult struct {
	Body        []byte
	ContentType string
}

// Fetcher retrieves remote module source. One call is one attempt.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (*FetchResult, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	return f(ctx, url)
}

// HTTPFetcher fetches modules over HTTP.
type HTTPFetcher struct {
	client  *http.Client
	maxSize int64
}

// NewHTTPFetcher creates a fetcher whose requests time out after timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, maxSize: maxRemoteModuleSize}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "pagegraph/"+version.GetVersion())

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	// One byte past the limit tells an oversized body from one that fits.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxSize {
		return nil, fmt.Errorf("GET %s: module exceeds %d bytes", url, f.maxSize)
	}

	return &FetchResult{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// fetchWithRetry calls fetcher up to attempts times with a linear backoff.
// Exhaustion yields a single DownloadFailure wrapping every attempt's error.
func fetchWithRetry(ctx context.Context, fetcher Fetcher, url string, attempts int, backoff time.Duration) (*FetchResult, error) {
	if attempts < 1 {
		attempts = 1
	}

	var errs []error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fetcher.Fetch(ctx, url)
		if err == nil {
			return result, nil
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt, err))

		if ctx.Err() != nil || attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(backoff * time.Duration(attempt)):
		}
	}

	return nil, errors.NewDownloadFailure(url, len(errs), stderrors.Join(errs...))
}
