// Package domjudge is a client for the DOMjudge v4 REST API.
//
// Every request goes through the same pipeline: a token-bucket rate limiter,
// a circuit breaker keyed by the server URL, and bounded retries with
// exponential backoff for transport failures, 5xx and 429 responses. GET
// responses are cached for a TTL and any successful write clears the cache.
package domjudge

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
	"strings"
	"time"

	"domctl/internal/apperrors"
	"domctl/pkg/backoff"
	"domctl/pkg/circuitbreaker"

	"golang.org/x/time/rate"
)

// Defaults of the request pipeline.
const (
	DefaultUsername = "admin"
	DefaultTimeout  = 30 * time.Second
	DefaultRate     = 10
	DefaultBurst    = 20
	DefaultRetries  = 5
	DefaultCacheTTL = 300 * time.Second
	ShortCacheTTL   = 60 * time.Second
)

// DefaultBackoff is the retry schedule: 1s doubling up to 60s, ±25% jitter.
var DefaultBackoff = backoff.Config{
	Initial: time.Second,
	Max:     60 * time.Second,
	Factor:  2,
	Jitter:  0.25,
}

// Recorder receives per-request timings. observability.Metrics implements it.
type Recorder interface {
	RecordRequest(ctx context.Context, method, route string, status int, durationSeconds float64)
}

// Options configures a Client. Zero values use the defaults above.
type Options struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	Rate     float64
	Burst    int
	// Retries is the number of retries after the first attempt. Negative disables retries.
	Retries  int
	CacheTTL time.Duration
	Backoff  *backoff.Config
	// Breakers shares circuit breakers between clients. A private registry is used when nil.
	Breakers   *circuitbreaker.Registry
	HTTPClient *http.Client
	Metrics    Recorder
	Logger     *slog.Logger
}

// Client talks to one DOMjudge server.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *circuitbreaker.Breaker
	retries  int
	backoff  backoff.Config
	cacheTTL time.Duration
	cache    *cache
	metrics  Recorder
	logger   *slog.Logger

	Contests      *ContestService
	Problems      *ProblemService
	Teams         *TeamService
	Organizations *OrganizationService
	Users         *UserService
	Submissions   *SubmissionService
}

// New creates a client. BaseURL and Password are required.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, apperrors.Validation("base_url", "API base URL is required")
	}
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, apperrors.Validation("base_url", fmt.Sprintf("invalid API base URL %q: %v", opts.BaseURL, err))
	}
	if opts.Password == "" {
		return nil, apperrors.Validation("password", "admin password is required to call the API")
	}
	if opts.Username == "" {
		opts.Username = DefaultUsername
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.Retries == 0 {
		opts.Retries = DefaultRetries
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Backoff == nil {
		b := DefaultBackoff
		opts.Backoff = &b
	}
	if opts.Breakers == nil {
		opts.Breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	base := strings.TrimRight(opts.BaseURL, "/")
	c := &Client{
		baseURL:  base,
		username: opts.Username,
		password: opts.Password,
		http:     opts.HTTPClient,
		limiter:  rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		breaker:  opts.Breakers.Get(base),
		retries:  opts.Retries,
		backoff:  *opts.Backoff,
		cacheTTL: opts.CacheTTL,
		cache:    newCache(),
		metrics:  opts.Metrics,
		logger:   opts.Logger.With("api", base),
	}
	c.Contests = &ContestService{c: c}
	c.Problems = &ProblemService{c: c}
	c.Teams = &TeamService{c: c}
	c.Organizations = &OrganizationService{c: c}
	c.Users = &UserService{c: c}
	c.Submissions = &SubmissionService{c: c}
	return c, nil
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// IsClientError returns true for 4xx errors other than 429.
func IsClientError(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 400 && he.StatusCode < 500 && he.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// Retryable reports whether a failed request may succeed when repeated:
// transport failures, 5xx and 429.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 500 || he.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// request is one API call.
type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	// route labels metrics and errors, e.g. "contests.create".
	route string
	// cacheKey defaults to path and query.
	cacheKey string
	cacheTTL time.Duration
	noCache  bool
}

func (r *request) key() string {
	if r.cacheKey != "" {
		return r.cacheKey
	}
	k := r.path
	if len(r.query) > 0 {
		k += "?" + r.query.Encode()
	}
	return k
}

// do runs a request through the pipeline and returns the response body.
func (c *Client) do(ctx context.Context, req *request) ([]byte, error) {
	cacheable := req.method == http.MethodGet && !req.noCache
	if cacheable {
		if body, ok := c.cache.get(req.key()); ok {
			c.logger.Debug("Cache hit", "route", req.route, "key", req.key())
			return body, nil
		}
	}

	var body []byte
	var err error
	for attempt := 0; ; attempt++ {
		if err = c.limiter.Wait(ctx); err != nil {
			return nil, apperrors.API(req.route, 0, err)
		}
		err = c.breaker.Execute(func() error {
			var sendErr error
			body, sendErr = c.send(ctx, req)
			return sendErr
		}, Retryable)
		if err == nil || !Retryable(err) || attempt >= c.retries || ctx.Err() != nil {
			break
		}
		c.logger.Warn("Request failed, retrying",
			"route", req.route, "attempt", attempt+1, "max_retries", c.retries, "error", err)
		if sleepErr := backoff.Sleep(ctx, attempt+1, &c.backoff); sleepErr != nil {
			err = sleepErr
			break
		}
	}
	if err != nil {
		return nil, classify(req.route, err)
	}

	if cacheable {
		ttl := req.cacheTTL
		if ttl <= 0 {
			ttl = c.cacheTTL
		}
		c.cache.set(req.key(), body, ttl)
	} else if req.method != http.MethodGet {
		c.cache.clear()
	}
	return body, nil
}

// send performs a single HTTP exchange.
func (c *Client) send(ctx context.Context, req *request) ([]byte, error) {
	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	var reader io.Reader
	if req.body != nil {
		reader = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.SetBasicAuth(c.username, c.password)
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.metrics != nil {
		c.metrics.RecordRequest(ctx, req.method, req.route, status, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, &HTTPError{StatusCode: resp.StatusCode, Body: errorMessage(data)}
}

// errorMessage extracts the "message" field of a DOMjudge error body.
func errorMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

// classify wraps a final request failure into the error taxonomy.
func classify(route string, err error) error {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return apperrors.API(route, 0, fmt.Errorf("API unavailable: %w", err))
	}
	var he *HTTPError
	if !errors.As(err, &he) {
		return apperrors.API(route, 0, err)
	}
	switch {
	case he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden:
		return apperrors.API(route, he.StatusCode, fmt.Errorf("authentication failed, check the admin password: %w", he))
	case he.StatusCode == http.StatusNotFound:
		return apperrors.API(route, he.StatusCode, fmt.Errorf("resource not found: %w", he))
	default:
		return apperrors.API(route, he.StatusCode, he)
	}
}

// getJSON decodes a GET response into v.
func (c *Client) getJSON(ctx context.Context, req *request, v any) error {
	req.method = http.MethodGet
	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.API(req.route, 0, fmt.Errorf("invalid response: %w", err))
	}
	return nil
}

// postJSON sends v as a JSON body and returns the raw response.
func (c *Client) postJSON(ctx context.Context, route, path string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, &request{
		method:      http.MethodPost,
		path:        path,
		body:        body,
		contentType: "application/json",
		route:       route,
	})
}

// Ping checks that the API answers with the configured credentials.
func (c *Client) Ping(ctx context.Context) error {
	var info map[string]any
	return c.getJSON(ctx, &request{path: "/api/v4/user", route: "user", noCache: true}, &info)
}

// parseID reads an entity id from a create response: a bare JSON string or
// number, or an object with an "id" (or "problem_id") field.
func parseID(data []byte) (string, error) {
	trimmed := bytes.TrimSpace(data)
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil && s != "" {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err == nil {
		return n.String(), nil
	}
	var obj struct {
		ID        json.RawMessage `json:"id"`
		ProblemID json.RawMessage `json:"problem_id"`
	}
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		for _, raw := range []json.RawMessage{obj.ProblemID, obj.ID} {
			if len(raw) == 0 {
				continue
			}
			if id, err := parseID(raw); err == nil {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("response carries no id: %q", errorMessage(data))
}
