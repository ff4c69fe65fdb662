package pokeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/grimm00/pokedex-sub002/internal/retry"
)

const (
	// BaseURL is the public PokéAPI v2 endpoint.
	BaseURL = "https://pokeapi.co/api/v2"

	defaultUserAgent = "Pokedex-App/1.0"
	maxBodyBytes     = 4 << 20
)

// Payload is the decoded upstream document for one species.
type Payload map[string]any

// Observer receives one call per HTTP attempt.
type Observer interface {
	ObserveUpstream(outcome string, elapsed time.Duration)
}

// Config holds client settings. Zero values fall back to DefaultConfig.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	RateLimit  float64 // requests per second, <= 0 disables limiting
	Retry      retry.Policy
	HTTPClient *http.Client
	Logger     *slog.Logger
	Observer   Observer
}

// DefaultConfig mirrors the public API's etiquette: one request every 100ms,
// 30s per request, three attempts.
func DefaultConfig() Config {
	return Config{
		BaseURL:   BaseURL,
		Timeout:   30 * time.Second,
		UserAgent: defaultUserAgent,
		RateLimit: 10,
		Retry:     retry.DefaultPolicy(),
	}
}

// Client fetches species documents by id.
type Client struct {
	baseURL   string
	timeout   time.Duration
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	policy    retry.Policy
	logger    *slog.Logger
	observer  Observer

	requests  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	notFound  atomic.Int64
	retries   atomic.Int64
	latencyNs atomic.Int64
	remaining atomic.Int64
}

// NewClient creates a client, filling unset fields from DefaultConfig.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		http:      cfg.HTTPClient,
		limiter:   limiter,
		policy:    cfg.Retry,
		logger:    cfg.Logger.With("component", "pokeapi"),
		observer:  cfg.Observer,
	}
	c.remaining.Store(-1)
	return c
}

// Fetch retrieves the species document for id.
//
// Each attempt runs on a context detached from ctx cancellation and bounded by
// the per-request timeout, so an attempt already on the wire completes on its
// own. Cancelling ctx prevents further attempts and rate-limit waits; if it
// ends before the first request is sent, Fetch returns a *NotSentError.
func (c *Client) Fetch(ctx context.Context, id int) (Payload, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid species id %d", id)
	}

	url := fmt.Sprintf("%s/pokemon/%d", c.baseURL, id)
	policy := c.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.retries.Add(1)
		c.logger.Warn("fetch attempt failed, retrying",
			"id", id,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"wait", wait,
			"error", err)
	}

	var (
		payload  Payload
		attempts int
		lastErr  error
	)
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.wait(ctx); err != nil {
			if attempts == 0 {
				return retry.Permanent(&NotSentError{ID: id, Err: err})
			}
			return retry.Permanent(&TransientError{ID: id, Err: errors.Join(lastErr, err)})
		}
		attempts = attempt
		c.logger.Debug("fetching species", "id", id, "attempt", attempt, "max_attempts", policy.MaxAttempts)

		p, err := c.get(ctx, id, url)
		if err == nil {
			payload = p
			return nil
		}
		lastErr = err
		var te *TransientError
		if errors.As(err, &te) {
			return err
		}
		return retry.Permanent(err)
	})
	if err == nil {
		c.successes.Add(1)
		return payload, nil
	}

	var ns *NotSentError
	if errors.As(err, &ns) {
		return nil, err
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		c.notFound.Add(1)
		return nil, err
	}
	c.failures.Add(1)

	var te *TransientError
	if errors.As(err, &te) {
		out := *te
		out.Attempts = attempts
		if err != error(te) {
			// ctx ended while waiting for the next attempt
			out.Err = errors.Join(te.Err, ctx.Err())
		}
		return nil, &out
	}
	return nil, err
}

// wait blocks until the rate limiter admits one request. Unlike
// rate.Limiter.Wait it keeps waiting up to the deadline instead of failing
// early when the reservation would end after it, so the error it returns
// always means ctx is done.
func (c *Client) wait(ctx context.Context) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	r := c.limiter.Reserve()
	d := r.Delay()
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return context.Cause(ctx)
	}
}

func (c *Client) get(ctx context.Context, id int, url string) (Payload, error) {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	c.requests.Add(1)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe("error", start)
		return nil, &TransientError{ID: id, Err: err}
	}
	defer resp.Body.Close()
	c.recordQuota(resp.Header)

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			c.observe("error", start)
			return nil, &TransientError{ID: id, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
		}
		var payload Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			c.observe("malformed", start)
			return nil, &MalformedResponseError{ID: id, Err: err}
		}
		if payload == nil {
			c.observe("malformed", start)
			return nil, &MalformedResponseError{ID: id, Err: errors.New("empty document")}
		}
		c.observe("ok", start)
		return payload, nil

	case resp.StatusCode == http.StatusNotFound:
		c.observe("not_found", start)
		drain(resp.Body)
		return nil, &NotFoundError{ID: id}

	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		c.observe("transient", start)
		drain(resp.Body)
		return nil, &TransientError{
			ID:         id,
			StatusCode: resp.StatusCode,
			Wait:       retryAfter(resp.Header),
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}

	default:
		c.observe("client_error", start)
		drain(resp.Body)
		return nil, &StatusError{ID: id, StatusCode: resp.StatusCode}
	}
}

func (c *Client) observe(outcome string, start time.Time) {
	elapsed := time.Since(start)
	c.latencyNs.Add(int64(elapsed))
	if c.observer != nil {
		c.observer.ObserveUpstream(outcome, elapsed)
	}
}

func (c *Client) recordQuota(h http.Header) {
	if v := h.Get("X-Rate-Limit-Remaining"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.remaining.Store(n)
		}
	}
}

// Stats summarizes client activity since construction.
type Stats struct {
	Requests       int64         `json:"requests"`
	Successes      int64         `json:"successes"`
	Failures       int64         `json:"failures"`
	NotFound       int64         `json:"not_found"`
	Retries        int64         `json:"retries"`
	AverageLatency time.Duration `json:"average_latency"`
	SuccessRate    float64       `json:"success_rate"`
	QuotaRemaining int64         `json:"quota_remaining"`
}

// Stats returns a snapshot of request counters. QuotaRemaining is -1 until the
// upstream reports it.
func (c *Client) Stats() Stats {
	s := Stats{
		Requests:       c.requests.Load(),
		Successes:      c.successes.Load(),
		Failures:       c.failures.Load(),
		NotFound:       c.notFound.Load(),
		Retries:        c.retries.Load(),
		QuotaRemaining: c.remaining.Load(),
	}
	if s.Requests > 0 {
		s.AverageLatency = time.Duration(c.latencyNs.Load() / s.Requests)
	}
	if done := s.Successes + s.Failures + s.NotFound; done > 0 {
		s.SuccessRate = float64(s.Successes) / float64(done) * 100
	}
	return s
}

func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxBodyBytes))
}
