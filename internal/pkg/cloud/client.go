// Package cloud talks to the Home Connect REST API and its event stream.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/reconcile"
	"go.uber.org/zap"
)

const (
	DefaultHost   = "https://api.home-connect.com"
	SimulatorHost = "https://simulator.home-connect.com"

	mediaType = "application/vnd.bsh.sdk.v1+json"

	// used when a 429 response carries no Retry-After header
	defaultRetryAfter = 60 * time.Second
)

type Config struct {
	Host             string
	Language         string
	RequestTimeout   time.Duration
	MaxAttempts      int
	FetchConcurrency int
	// StreamIdleTimeout ends the event stream when nothing, not even a
	// keep-alive, arrived for this long.
	StreamIdleTimeout time.Duration
	// MaxStreamSession bounds one event stream connection. The access token
	// expiry bounds it as well.
	MaxStreamSession time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:              DefaultHost,
		Language:          "en-GB",
		RequestTimeout:    30 * time.Second,
		MaxAttempts:       3,
		FetchConcurrency:  4,
		StreamIdleTimeout: 2 * time.Minute,
		MaxStreamSession:  time.Hour,
	}
}

type Client struct {
	cfg        Config
	tokens     TokenSource
	httpClient *http.Client
	// the stream client has no overall timeout
	streamClient *http.Client
	logger       *zap.Logger
	now          func() time.Time
}

func WithHTTPClient(hc *http.Client) func(*Client) {
	return func(c *Client) {
		c.httpClient = hc
		c.streamClient = &http.Client{Transport: hc.Transport}
	}
}

func WithLogger(l *zap.Logger) func(*Client) {
	return func(c *Client) {
		c.logger = l
	}
}

func New(cfg Config, tokens TokenSource, opts ...func(*Client)) *Client {
	def := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = def.FetchConcurrency
	}
	c := &Client{
		cfg:          cfg,
		tokens:       tokens,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
		streamClient: &http.Client{},
		logger:       zap.L(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Host+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", mediaType)
	if c.cfg.Language != "" {
		req.Header.Set("Accept-Language", c.cfg.Language)
	}
	if body != nil {
		req.Header.Set("Content-Type", mediaType)
	}
	return req, nil
}

// do sends the request, retrying expired tokens, server errors and rate
// limiting. out receives the "data" member of the response envelope.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(envelope[any]{Data: in}); err != nil {
			return err
		}
	}

	var lastErr error
	var retryAfter time.Duration
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		err := c.once(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		retryAfter = 0

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.Status == http.StatusTooManyRequests:
				retryAfter = apiErr.RetryAfter
				if attempt == c.cfg.MaxAttempts {
					break
				}
				c.logger.Warn("rate limited by home connect", zap.String("path", path), zap.Duration("retry_after", retryAfter))
				if err := sleep(ctx, retryAfter); err != nil {
					return err
				}
			case apiErr.retryable():
				c.logger.Debug("retrying request", zap.String("path", path), zap.Int("status", apiErr.Status), zap.Int("attempt", attempt))
			default:
				return err
			}
			continue
		}
		c.logger.Debug("request failed", zap.String("path", path), zap.Error(err), zap.Int("attempt", attempt))
	}
	return &reconcile.TransportError{Op: method + " " + path, Err: lastErr, RetryAfter: retryAfter}
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	env := envelope[any]{Data: out}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	var env envelope[json.RawMessage]
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env); err == nil && env.Error != nil {
		apiErr.Key = env.Error.Key
		apiErr.Description = env.Error.Description
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return apiErr
}

func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
