// Package linkcheck probes site URLs for reachability.
package linkcheck

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	minTimeout = 7 * time.Second
	maxTimeout = 15 * time.Second

	// Parallel probes per CheckAll call.
	fanout = 15
)

// Result is the outcome of probing a single URL.
type Result struct {
	URL        string `json:"url"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

// Checker probes URLs with a fixed per-URL budget.
type Checker struct {
	client  *http.Client
	timeout time.Duration
}

// NewChecker creates a checker. The timeout is clamped to 7-15s.
func NewChecker(timeout time.Duration) *Checker {
	if timeout < minTimeout {
		timeout = minTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	return &Checker{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		timeout: timeout,
	}
}

// Check probes a single URL: HEAD first, falling back to GET when the server
// rejects HEAD, with one retry on transport errors.
func (c *Checker) Check(ctx context.Context, url string) Result {
	start := time.Now()

	res := c.probe(ctx, url)
	if !res.OK && res.StatusCode == 0 {
		// Transport error: one retry.
		res = c.probe(ctx, url)
	}

	res.URL = url
	res.DurationMS = time.Since(start).Milliseconds()
	return res
}

func (c *Checker) probe(ctx context.Context, url string) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status, err := c.request(ctx, http.MethodHead, url)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = c.request(ctx, http.MethodGet, url)
	}
	if err != nil {
		return Result{Error: err.Error()}
	}

	return Result{
		OK:         status >= 200 && status < 400,
		StatusCode: status,
	}
}

func (c *Checker) request(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "sitestash-linkcheck/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// CheckAll probes the given URLs with bounded parallelism and returns results
// in input order.
func (c *Checker) CheckAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanout)
	for i, url := range urls {
		g.Go(func() error {
			results[i] = c.Check(gctx, url)
			return nil
		})
	}
	g.Wait()

	return results
}
