// Package output defines the Sink that receives rendered events and builds the
// concrete sinks from configuration.
package output

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/c360/eventpublisher/errors"
	"github.com/c360/eventpublisher/natsclient"
	"github.com/c360/eventpublisher/output/file"
	"github.com/c360/eventpublisher/output/httppost"
	"github.com/c360/eventpublisher/output/natspub"
	"github.com/c360/eventpublisher/output/stdout"
	"github.com/c360/eventpublisher/output/websocket"
)

// Sink receives one rendered event per Write. Implementations serialise their own
// writes, must not retain data after Write returns, and classify errors with the
// errors package so callers can decide on retries.
type Sink interface {
	Write(ctx context.Context, data []byte) error
	Close() error
	Name() string
}

// Sink types
const (
	TypeStdout    = "stdout"
	TypeFile      = "file"
	TypeNATS      = "nats"
	TypeHTTPPost  = "httppost"
	TypeWebSocket = "websocket"
)

// Config selects and configures a sink. Only the section matching Type is used.
type Config struct {
	Type      string            `json:"type"                yaml:"type"`
	File      *file.Config      `json:"file,omitempty"      yaml:"file,omitempty"`
	NATS      *natspub.Config   `json:"nats,omitempty"      yaml:"nats,omitempty"`
	HTTPPost  *httppost.Config  `json:"httppost,omitempty"  yaml:"httppost,omitempty"`
	WebSocket *websocket.Config `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

// Validate checks that the section for Type is present and valid
func (c *Config) Validate() error {
	switch c.Type {
	case TypeStdout, "":
		return nil
	case TypeFile:
		if c.File == nil {
			return missingSection(c.Type)
		}
		return c.File.Validate()
	case TypeNATS:
		if c.NATS == nil {
			return missingSection(c.Type)
		}
		return c.NATS.Validate()
	case TypeHTTPPost:
		if c.HTTPPost == nil {
			return missingSection(c.Type)
		}
		return c.HTTPPost.Validate()
	case TypeWebSocket:
		if c.WebSocket == nil {
			return missingSection(c.Type)
		}
		return c.WebSocket.Validate()
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown sink type %q", c.Type))
	}
}

func missingSection(kind string) error {
	return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
		fmt.Sprintf("sink type %s requires a %s section", kind, kind))
}

// Dependencies provides what sinks need from the host process
type Dependencies struct {
	NATSClient *natsclient.Client // Required by the nats sink
	Logger     *slog.Logger       // Structured logger (can be nil, defaults to slog.Default())
	Stdout     io.Writer          // Destination of the stdout sink (can be nil, defaults to os.Stdout)
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// New builds the sink described by cfg
func New(ctx context.Context, cfg Config, deps Dependencies) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.GetLogger()
	sink, err := newSink(ctx, cfg, deps, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Sink created", "component", "output", "sink", sink.Name(), "type", cfg.Type)
	return sink, nil
}

func newSink(ctx context.Context, cfg Config, deps Dependencies, logger *slog.Logger) (Sink, error) {
	switch cfg.Type {
	case TypeFile:
		out, err := file.NewOutput(*cfg.File, logger)
		if err != nil {
			return nil, err
		}
		return out, nil
	case TypeNATS:
		if deps.NATSClient == nil {
			return nil, errors.WrapFatal(errors.ErrMissingConfig, "output", "New", "NATS client required")
		}
		out, err := natspub.NewOutput(ctx, *cfg.NATS, deps.NATSClient, logger)
		if err != nil {
			return nil, err
		}
		return out, nil
	case TypeHTTPPost:
		out, err := httppost.NewOutput(*cfg.HTTPPost, logger)
		if err != nil {
			return nil, err
		}
		return out, nil
	case TypeWebSocket:
		out, err := websocket.NewOutput(*cfg.WebSocket, logger)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return stdout.NewOutput(deps.Stdout), nil
	}
}
