// Package collector is the HTTP client for the activity collector's batch endpoint.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"example.com/carwash/activity/internal/domain"
)

// BatchPath is the collector route that accepts activity batches.
const BatchPath = "/v1/activities/batch"

const (
	defaultTimeout       = 10 * time.Second
	defaultBeaconTimeout = 2 * time.Second
	maxErrorBody         = 1 << 10
)

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token. An empty token sends no
// Authorization header.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// StatusError is returned when the collector answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("collector responded %d", e.StatusCode)
	}
	return fmt.Sprintf("collector responded %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether resending the same batch cannot succeed: the collector refused its
// content rather than failing to process it.
func (e *StatusError) Permanent() bool {
	return e.StatusCode == http.StatusBadRequest ||
		e.StatusCode == http.StatusRequestEntityTooLarge ||
		e.StatusCode == http.StatusUnprocessableEntity
}

// Receipt is the collector's acknowledgement of a batch.
type Receipt struct {
	Accepted int `json:"accepted"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBeaconTimeout bounds how long Beacon may block.
func WithBeaconTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.beaconTimeout = d
		}
	}
}

// WithLogger sets the logger used for swallowed beacon errors.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger.With("component", "collector_client") }
}

// Client posts activity batches to the collector.
type Client struct {
	endpoint      string
	tokens        TokenSource
	http          *http.Client
	beaconTimeout time.Duration
	logger        *slog.Logger
}

// New returns a Client for the collector rooted at baseURL.
func New(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse collector url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("collector url %q must be http or https", baseURL)
	}
	if tokens == nil {
		tokens = StaticToken("")
	}

	c := &Client{
		endpoint: strings.TrimRight(u.String(), "/") + BatchPath,
		tokens:   tokens,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		beaconTimeout: defaultBeaconTimeout,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send posts one batch and reports any transport or status failure.
func (c *Client) Send(ctx context.Context, activities []domain.Activity) error {
	_, err := c.Submit(ctx, activities)
	return err
}

// Submit posts one batch and decodes the collector's receipt.
func (c *Client) Submit(ctx context.Context, activities []domain.Activity) (Receipt, error) {
	req, err := c.newRequest(ctx, activities)
	if err != nil {
		return Receipt{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Receipt{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil && err != io.EOF {
		return Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return receipt, nil
}

// Beacon posts a batch during teardown. It waits at most the beacon timeout, ignores the response
// and never returns an error.
func (c *Client) Beacon(activities []domain.Activity) {
	ctx, cancel := context.WithTimeout(context.Background(), c.beaconTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, activities)
	if err != nil {
		c.logger.Debug("beacon not sent", "error", err)
		return
	}
	req.Header.Set("Connection", "keep-alive")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("beacon failed", "error", err, "batch_size", len(activities))
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

func (c *Client) newRequest(ctx context.Context, activities []domain.Activity) (*http.Request, error) {
	payload, err := json.Marshal(domain.Batch{Activities: activities})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}
