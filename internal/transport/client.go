// Package transport posts records to the bugatlas collector.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/tuncerburak97/bugatlas/internal/config"
	"github.com/tuncerburak97/bugatlas/internal/model"
)

const (
	errorsPath = "/errors"
	logsPath   = "/logs"

	HeaderAPIKey    = "api_key"
	HeaderSecretKey = "secret_key"
)

// StatusError is returned when the collector answers outside 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector responded %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL     string
	credentials model.Credentials
	httpClient  *http.Client
	cb          *gobreaker.CircuitBreaker
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(cfg config.BugAtlasConfig, opts ...Option) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: cfg.Credentials(),
		httpClient:  &http.Client{Timeout: timeout},
	}

	if cfg.Circuit.Enabled {
		threshold := cfg.Circuit.Threshold
		if threshold == 0 {
			threshold = 5
		}
		c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "bugatlas-collector",
			MaxRequests: 1,
			Timeout:     cfg.Circuit.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Collector circuit breaker state changed")
			},
		})
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SendError(ctx context.Context, rec model.ErrorRecord) error {
	return c.post(ctx, errorsPath, rec)
}

func (c *Client) SendLog(ctx context.Context, payload model.LogPayload) error {
	return c.post(ctx, logsPath, payload)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	if c.cb == nil {
		return c.do(ctx, path, data)
	}
	_, err = c.cb.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, path, data)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("collector unavailable: %w", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, path string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAPIKey, c.credentials.APIKey)
	req.Header.Set(HeaderSecretKey, c.credentials.APISecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	log.Debug().
		Str("path", path).
		Int("status_code", resp.StatusCode).
		Msg("Record delivered to collector")
	return nil
}
