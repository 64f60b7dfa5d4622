package tiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/tile-animator/internal/core/observability"
)

const upstreamName = "tiler"

// UpstreamError is a non-2xx answer from the backend.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("tiler %s: upstream status %d: %s", e.Op, e.Status, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *UpstreamError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests
}

type Options struct {
	// per attempt timeout
	Timeout time.Duration
	// extra attempts after the first
	Retries int
	Backoff time.Duration
	// outbound request rate; <= 0 disables limiting
	RPS   float64
	Burst int
}

type Client struct {
	logger  *slog.Logger
	http    *http.Client
	base    *url.URL
	opts    Options
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error // for tests
}

func New(logger *slog.Logger, client *http.Client, baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse tiler url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("tiler url %q must be absolute", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	c := &Client{
		logger: logger,
		http:   client,
		base:   u,
		opts:   opts,
		sleep:  sleepCtx,
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c, nil
}

// Fetch renders one frame, retrying transient failures with exponential
// backoff. Client errors and cancellation are returned immediately.
func (c *Client) Fetch(ctx context.Context, q FrameQuery) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			observability.IncUpstreamRetry(upstreamName)
			wait := c.opts.Backoff << (attempt - 1)
			c.logger.Debug("retrying frame fetch", "frame", q.String(), "attempt", attempt, "wait", wait.String(), "err", lastErr)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", q, err)
			}
		}

		body, err := c.fetchOnce(ctx, q)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", q, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, q FrameQuery) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	searchID, err := c.register(ctx, q)
	if err == nil {
		var body []byte
		body, err = c.crop(ctx, searchID, q)
		observability.ObserveUpstreamLatency(upstreamName, err, time.Since(start).Seconds())
		return body, err
	}
	observability.ObserveUpstreamLatency(upstreamName, err, time.Since(start).Seconds())
	return nil, err
}

type registerRequest struct {
	Collections []string       `json:"collections,omitempty"`
	FilterLang  string         `json:"filter-lang"`
	Filter      map[string]any `json:"filter"`
}

type registerResponse struct {
	SearchID string `json:"searchid"`
}

// register stores the frame's search on the backend and returns its id.
func (c *Client) register(ctx context.Context, q FrameQuery) (string, error) {
	payload, err := json.Marshal(registerRequest{
		Collections: []string{q.Collection},
		FilterLang:  "cql2-json",
		Filter:      q.Filter(),
	})
	if err != nil {
		return "", fmt.Errorf("encode search: %w", err)
	}

	u := c.base.JoinPath("mosaic", "register")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req, "register")
	if err != nil {
		return "", err
	}
	var out registerResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode register response: %w", err)
	}
	if out.SearchID == "" {
		return "", errors.New("register response without searchid")
	}
	return out.SearchID, nil
}

func (c *Client) crop(ctx context.Context, searchID string, q FrameQuery) ([]byte, error) {
	u := c.base.JoinPath("mosaic", searchID, "bbox", q.BBoxPath()+".png")
	raw := "zoom=" + strconv.Itoa(q.Zoom)
	if q.RenderParams != "" {
		raw += "&" + q.RenderParams
	}
	u.RawQuery = raw

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build crop request: %w", err)
	}
	req.Header.Set("Accept", "image/png")
	return c.do(req, "crop")
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tiler %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &UpstreamError{Op: op, Status: resp.StatusCode, Body: string(b)}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tiler %s: read body: %w", op, err)
	}
	return b, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	// transport errors, per-attempt timeouts and bad payloads
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
