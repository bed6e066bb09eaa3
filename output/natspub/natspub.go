// Package natspub provides a sink that publishes rendered events to a NATS subject
package natspub

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/eventpublisher/errors"
)

// Publisher is the subset of natsclient.Client the sink needs
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// StreamEnsurer creates JetStream streams. natsclient.Client implements it.
type StreamEnsurer interface {
	EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// Config holds configuration for the NATS sink
type Config struct {
	Subject   string `json:"subject"    yaml:"subject"`
	JetStream bool   `json:"jetstream"  yaml:"jetstream"`
	// Stream, when set with JetStream, is created on startup to capture Subject
	Stream string `json:"stream" yaml:"stream"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "subject is required")
	}
	if strings.ContainsAny(c.Subject, " \t\r\n*>") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"subject must be a literal subject without wildcards")
	}
	if c.Stream != "" && !c.JetStream {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "stream requires jetstream")
	}
	return nil
}

// Output publishes each rendered event as one NATS message
type Output struct {
	name      string
	subject   string
	jetstream bool
	client    Publisher
	logger    *slog.Logger

	messagesSent int64
	errors       int64
}

// NewOutput creates a NATS sink. When config.Stream is set and client can ensure
// streams, the stream is created before the sink is returned.
func NewOutput(ctx context.Context, config Config, client Publisher, logger *slog.Logger) (*Output, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Output", "NewOutput", "NATS client required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if config.Stream != "" {
		ensurer, ok := client.(StreamEnsurer)
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "NewOutput",
				"client cannot create streams")
		}
		if _, err := ensurer.EnsureStream(ctx, jetstream.StreamConfig{
			Name:     config.Stream,
			Subjects: []string{config.Subject},
		}); err != nil {
			return nil, err
		}
	}

	return &Output{
		name:      "nats-output",
		subject:   config.Subject,
		jetstream: config.JetStream,
		client:    client,
		logger:    logger.With("component", "nats-output", "subject", config.Subject),
	}, nil
}

// Name returns the sink name
func (n *Output) Name() string {
	return n.name
}

// Subject returns the subject events are published on
func (n *Output) Subject() string {
	return n.subject
}

// Write publishes data on the configured subject
func (n *Output) Write(ctx context.Context, data []byte) error {
	var err error
	if n.jetstream {
		err = n.client.PublishToStream(ctx, n.subject, data)
	} else {
		err = n.client.Publish(ctx, n.subject, data)
	}
	if err != nil {
		atomic.AddInt64(&n.errors, 1)
		n.logger.Debug("Publish failed", "error", err)
		return err
	}
	atomic.AddInt64(&n.messagesSent, 1)
	return nil
}

// Close is a no-op; the NATS connection is owned by the caller
func (n *Output) Close() error {
	return nil
}

// Sent returns the number of published events
func (n *Output) Sent() int64 {
	return atomic.LoadInt64(&n.messagesSent)
}

// Errors returns the number of failed publishes
func (n *Output) Errors() int64 {
	return atomic.LoadInt64(&n.errors)
}
