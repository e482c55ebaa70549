package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Fetcher retrieves a single resource over the network.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

var errEmptyBody = errors.New("empty body")

// HTTPFetcher is the default Fetcher. It makes exactly one attempt per call;
// the only deadline is the one carried by ctx.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	lim       *rate.Limiter
}

// NewHTTPFetcher returns a fetcher sending userAgent and issuing at most
// perMinute requests per minute (0 means unlimited).
func NewHTTPFetcher(client *http.Client, userAgent string, perMinute int) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if perMinute > 0 {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	return &HTTPFetcher{client: client, userAgent: userAgent, lim: lim}
}

// Get downloads rawURL. Non-2xx statuses and empty bodies are errors.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.lim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, rawURL)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil, errEmptyBody
	}
	return body, nil
}
