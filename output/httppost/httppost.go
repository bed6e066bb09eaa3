// Package httppost provides a sink that POSTs rendered events to an HTTP endpoint
package httppost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/c360/eventpublisher/errors"
)

// ErrUnexpectedStatus is wrapped by errors for non-2xx responses
var ErrUnexpectedStatus = fmt.Errorf("unexpected HTTP status: %w", errors.ErrDeliveryFailed)

// Config holds configuration for the HTTP POST sink
type Config struct {
	URL         string            `json:"url"          yaml:"url"`
	Headers     map[string]string `json:"headers"      yaml:"headers"`
	Timeout     int               `json:"timeout"      yaml:"timeout"`
	ContentType string            `json:"content_type" yaml:"content_type"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "invalid URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unsupported URL scheme %q", u.Scheme))
	}

	if c.Timeout < 0 || c.Timeout > 300 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 300 seconds")
	}
	return nil
}

// DefaultConfig returns default configuration for the HTTP POST sink
func DefaultConfig() Config {
	return Config{
		URL:         "http://localhost:8080/webhook",
		Headers:     make(map[string]string),
		Timeout:     30,
		ContentType: "application/json",
	}
}

// Stats reports sink counters
type Stats struct {
	MessagesSent int64
	Errors       int64
}

// Output sends one POST request per rendered event. Retries belong to the caller;
// Write classifies failures so the caller knows which ones are worth retrying.
type Output struct {
	name        string
	url         string
	headers     map[string]string
	contentType string
	httpClient  *http.Client
	logger      *slog.Logger

	messagesSent int64
	errors       int64
}

// NewOutput creates an HTTP POST sink
func NewOutput(config Config, logger *slog.Logger) (*Output, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = 30
	}
	if config.ContentType == "" {
		config.ContentType = "application/json"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Output{
		name:        "httppost-output",
		url:         config.URL,
		headers:     config.Headers,
		contentType: config.ContentType,
		httpClient:  &http.Client{Timeout: time.Duration(config.Timeout) * time.Second},
		logger:      logger.With("component", "httppost-output"),
	}, nil
}

// Name returns the sink name
func (h *Output) Name() string {
	return h.name
}

// Write posts data. Network failures and 5xx/429 responses are transient, other
// non-2xx responses are invalid.
func (h *Output) Write(ctx context.Context, data []byte) error {
	err := h.sendHTTPPost(ctx, data)
	if err != nil {
		atomic.AddInt64(&h.errors, 1)
		h.logger.Debug("HTTP POST failed", "url", h.url, "error", err)
		return err
	}
	atomic.AddInt64(&h.messagesSent, 1)
	return nil
}

// Close releases idle connections
func (h *Output) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}

// Stats returns a snapshot of the sink counters
func (h *Output) Stats() Stats {
	return Stats{
		MessagesSent: atomic.LoadInt64(&h.messagesSent),
		Errors:       atomic.LoadInt64(&h.errors),
	}
}

func (h *Output) sendHTTPPost(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(data))
	if err != nil {
		return errors.WrapInvalid(err, "Output", "Write", "build request")
	}

	req.Header.Set("Content-Type", h.contentType)
	for key, value := range h.headers {
		req.Header.Set(key, value)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.WrapTransient(err, "Output", "Write", "send request")
	}
	defer resp.Body.Close()

	// Drain the body so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return errors.WrapTransient(statusErr, "Output", "Write", "deliver event")
	}
	return errors.WrapInvalid(statusErr, "Output", "Write", "deliver event")
}
