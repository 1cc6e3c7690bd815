package simpleentity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

type noopObserver struct{}

// NewNoopObserver returns an Observer that discards everything.
func NewNoopObserver() Observer {
	return noopObserver{}
}

func (noopObserver) OperationCompleted(string, error, time.Duration) {}

func (noopObserver) PayloadIngested(string, int64) {}

// httpSourceOpener fetches payload sources over HTTP(S).
type httpSourceOpener struct {
	client *http.Client
}

// NewHTTPSourceOpener returns a SourceOpener that issues GET requests with
// client, or a client with a five minute timeout when nil.
func NewHTTPSourceOpener(client *http.Client) SourceOpener {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &httpSourceOpener{client: client}
}

func (o *httpSourceOpener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %s", uri, resp.Status)
	}
	return resp.Body, nil
}
