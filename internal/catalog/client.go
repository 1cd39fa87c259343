// Package catalog talks to the upstream series API through the edge cache gateway.
//
// Every upstream call goes through Client.Request, which coalesces identical in-flight
// requests, consults the gateway before the upstream and writes fresh responses back
// to the gateway in the background.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"dramastream/internal/domain"
	"dramastream/internal/httpx"
	"dramastream/internal/metrics"
)

const (
	defaultTimeout     = 20 * time.Second
	writeBackTimeout   = 10 * time.Second
	maxUpstreamBody    = 8 << 20
	defaultContentType = "application/json; charset=utf-8"
)

// Config locates the upstream API and the cache gateway. An empty GatewayURL disables
// caching; an empty WriteToken disables write-back only.
type Config struct {
	BaseURL    string
	GatewayURL string
	WriteToken string
	APIToken   string
}

type Client struct {
	baseURL    string
	gatewayURL string
	writeToken string
	apiToken   string

	httpClient *http.Client
	logger     *slog.Logger
	retry      httpx.RetryConfig

	inflight singleflight.Group
	writes   sync.WaitGroup
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetry overrides the upstream retry policy.
func WithRetry(cfg httpx.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

func NewClient(cfg Config, options ...Option) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		gatewayURL: strings.TrimSpace(cfg.GatewayURL),
		writeToken: strings.TrimSpace(cfg.WriteToken),
		apiToken:   strings.TrimSpace(cfg.APIToken),
		logger:     slog.Default(),
		retry:      httpx.DefaultRetryConfig(),
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = httpx.NewClient(defaultTimeout)
	}
	return client
}

type RequestOptions struct {
	// ForceRefresh skips the gateway lookup. The fresh response is still written back.
	ForceRefresh bool
}

type Response struct {
	Payload   json.RawMessage
	FromCache bool
	// WriteBack is nil when no write-back was scheduled.
	WriteBack *WriteBack
}

// WriteBack is the outcome of an asynchronous cache write. Its failure never affects
// the response it belongs to.
type WriteBack struct {
	done chan struct{}
	err  error
}

// Wait blocks until the write finished or ctx is done.
func (w *WriteBack) Wait(ctx context.Context) error {
	if w == nil {
		return nil
	}
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpstreamError is a non-2xx answer from the upstream API.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

func (e *UpstreamError) Unwrap() error {
	return &httpx.StatusError{Code: e.Status}
}

// Request performs a GET against the upstream API through the cache layer.
//
// Concurrent calls with the same path and refresh flag share one round trip and observe
// the same outcome. A caller whose ctx ends early gets ctx.Err(); the shared round trip
// keeps running and still populates the cache.
func (c *Client) Request(ctx context.Context, path string, opts RequestOptions) (Response, error) {
	path = normalizePath(path)
	detached := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(requestKey(path, opts.ForceRefresh), func() (any, error) {
		return c.roundTrip(detached, path, opts.ForceRefresh)
	})

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case result := <-ch:
		if result.Shared {
			metrics.RequestsSharedTotal.Inc()
		}
		if result.Err != nil {
			return Response{}, result.Err
		}
		return result.Val.(Response), nil
	}
}

// Wait blocks until every scheduled write-back has finished.
func (c *Client) Wait() {
	c.writes.Wait()
}

func normalizePath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

func requestKey(path string, forceRefresh bool) string {
	if forceRefresh {
		return path + "|fresh:1"
	}
	return path + "|fresh:0"
}

func (c *Client) roundTrip(ctx context.Context, path string, forceRefresh bool) (Response, error) {
	if !forceRefresh {
		if payload, ok := c.lookup(ctx, path); ok {
			return Response{Payload: payload, FromCache: true}, nil
		}
	}

	payload, status, contentType, err := c.fetchUpstream(ctx, path)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Payload:   payload,
		WriteBack: c.writeBack(path, payload, status, contentType),
	}, nil
}

// lookup asks the gateway for a cached payload. Any failure counts as a miss.
func (c *Client) lookup(ctx context.Context, path string) (json.RawMessage, bool) {
	if c.gatewayURL == "" {
		return nil, false
	}
	endpoint, err := url.Parse(c.gatewayURL)
	if err != nil {
		metrics.GatewayLookupsTotal.WithLabelValues("error").Inc()
		return nil, false
	}
	query := endpoint.Query()
	query.Set("path", path)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		metrics.GatewayLookupsTotal.WithLabelValues("error").Inc()
		return nil, false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", httpx.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.GatewayLookupsTotal.WithLabelValues("error").Inc()
		c.logger.Debug("cache gateway lookup failed", slog.String("path", path), slog.String("error", err.Error()))
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		metrics.GatewayLookupsTotal.WithLabelValues("error").Inc()
		return nil, false
	}

	var lookup domain.CacheLookup
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUpstreamBody)).Decode(&lookup); err != nil {
		metrics.GatewayLookupsTotal.WithLabelValues("error").Inc()
		return nil, false
	}
	if !lookup.Hit || isNullPayload(lookup.Payload) {
		metrics.GatewayLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.GatewayLookupsTotal.WithLabelValues("hit").Inc()
	return lookup.Payload, true
}

func isNullPayload(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (c *Client) fetchUpstream(ctx context.Context, path string) (json.RawMessage, int, string, error) {
	var (
		payload     json.RawMessage
		status      int
		contentType string
	)
	start := time.Now()
	err := httpx.Retry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", httpx.UserAgent)
		if c.apiToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiToken)
			req.Header.Set("x-api-key", c.apiToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.UpstreamRequestsTotal.WithLabelValues("error").Inc()
			return err
		}
		defer resp.Body.Close()
		metrics.UpstreamRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return newUpstreamError(resp.StatusCode, body)
		}
		if !json.Valid(body) {
			return &UpstreamError{Status: resp.StatusCode, Message: "upstream returned invalid JSON"}
		}

		payload = body
		status = resp.StatusCode
		contentType = resp.Header.Get("Content-Type")
		return nil
	})
	metrics.UpstreamRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn("upstream request failed", slog.String("path", path), slog.String("error", err.Error()))
		return nil, 0, "", err
	}
	if contentType == "" {
		contentType = defaultContentType
	}
	return payload, status, contentType, nil
}

func newUpstreamError(status int, body []byte) *UpstreamError {
	var envelope struct {
		Message any `json:"message"`
		Error   any `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		for _, candidate := range []any{envelope.Message, envelope.Error} {
			if text, ok := candidate.(string); ok && strings.TrimSpace(text) != "" {
				return &UpstreamError{Status: status, Message: text}
			}
		}
	}
	return &UpstreamError{
		Status:  status,
		Message: strings.TrimSpace(fmt.Sprintf("request failed (%d %s)", status, http.StatusText(status))),
	}
}

// writeBack stores a fresh upstream payload in the gateway without blocking the caller.
func (c *Client) writeBack(path string, payload json.RawMessage, status int, contentType string) *WriteBack {
	if c.gatewayURL == "" || c.writeToken == "" {
		return nil
	}
	wb := &WriteBack{done: make(chan struct{})}
	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		defer close(wb.done)

		ctx, cancel := context.WithTimeout(context.Background(), writeBackTimeout)
		defer cancel()
		wb.err = c.postCache(ctx, domain.CacheWrite{
			Path:        path,
			TTL:         json.Number(strconv.FormatInt(int64(TTLForPath(path)/time.Second), 10)),
			Status:      status,
			ContentType: contentType,
			Payload:     payload,
		})
		if wb.err != nil {
			metrics.WriteBacksTotal.WithLabelValues("error").Inc()
			c.logger.Warn("cache write-back failed", slog.String("path", path), slog.String("error", wb.err.Error()))
			return
		}
		metrics.WriteBacksTotal.WithLabelValues("ok").Inc()
	}()
	return wb
}

func (c *Client) postCache(ctx context.Context, write domain.CacheWrite) error {
	body, err := json.Marshal(write)
	if err != nil {
		return fmt.Errorf("encode cache write: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.writeToken)
	req.Header.Set("User-Agent", httpx.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &httpx.StatusError{Code: resp.StatusCode}
	}
	return nil
}
