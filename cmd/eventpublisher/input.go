package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/tidwall/gjson"

	"github.com/c360/eventpublisher/errors"
	"github.com/c360/eventpublisher/schema"
)

// maxLineSize bounds one JSON line read from stdin
const maxLineSize = 4 << 20

// eventPublisher is the part of a publisher the router needs
type eventPublisher interface {
	Publish(ctx context.Context, event []any) error
}

type route struct {
	def *schema.StreamDefinition
	pub eventPublisher
}

// router decodes input documents and hands each event to its stream's publisher
type router struct {
	routes map[string]route
	only   *route // Target of bare documents when exactly one stream is configured
	logger *slog.Logger

	accepted atomic.Int64
	rejected atomic.Int64
}

func newRouter(logger *slog.Logger) *router {
	return &router{
		routes: make(map[string]route),
		logger: logger.With("component", "router"),
	}
}

func (r *router) add(def *schema.StreamDefinition, pub eventPublisher) {
	r.routes[def.StreamID()] = route{def: def, pub: pub}
	if len(r.routes) == 1 {
		rt := r.routes[def.StreamID()]
		r.only = &rt
	} else {
		r.only = nil
	}
}

// dispatch accepts either an envelope {"stream": id, "data": event} or, with a
// single configured stream, the bare event document. Blank lines are ignored.
func (r *router) dispatch(ctx context.Context, line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	if !gjson.ValidBytes(line) {
		return errors.WrapInvalid(errors.ErrParsingFailed, "router", "dispatch", "parse input line")
	}

	doc := gjson.ParseBytes(line)
	rt, data, err := r.resolve(doc, line)
	if err != nil {
		return err
	}

	event, err := schema.DecodeEvent(rt.def, data)
	if err != nil {
		return errors.WrapInvalid(err, "router", "dispatch", "decode event for "+rt.def.StreamID())
	}
	return rt.pub.Publish(ctx, event)
}

func (r *router) resolve(doc gjson.Result, line []byte) (route, []byte, error) {
	stream := doc.Get("stream")
	if doc.IsObject() && stream.Exists() {
		rt, ok := r.routes[stream.String()]
		if !ok {
			return route{}, nil, errors.WrapInvalid(errors.ErrStreamNotFound, "router", "resolve",
				fmt.Sprintf("route stream %q", stream.String()))
		}
		data := doc.Get("data")
		if !data.Exists() {
			return route{}, nil, errors.WrapInvalid(errors.ErrInvalidData, "router", "resolve",
				"envelope has no data field")
		}
		return rt, []byte(data.Raw), nil
	}

	if r.only == nil {
		return route{}, nil, errors.WrapInvalid(errors.ErrInvalidData, "router", "resolve",
			"bare events need exactly one configured stream")
	}
	return *r.only, line, nil
}

// handle dispatches one document, logging and counting rejected input.
// Only errors that end consumption are returned.
func (r *router) handle(ctx context.Context, data []byte) error {
	err := r.dispatch(ctx, data)
	switch {
	case err == nil:
		r.accepted.Add(1)
		return nil
	case errors.IsInvalid(err):
		r.rejected.Add(1)
		r.logger.Warn("Rejected input event", "error", err)
		return nil
	case ctx.Err() != nil:
		return nil
	default:
		return err
	}
}

// consumeLines reads JSON lines from in until EOF or ctx ends. The reader runs
// in its own goroutine so a blocked read never delays shutdown.
func (r *router) consumeLines(ctx context.Context, in io.Reader) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return errors.WrapFatal(err, "router", "consumeLines", "read input")
					}
				default:
				}
				r.logger.Info("Input exhausted",
					"accepted", r.accepted.Load(),
					"rejected", r.rejected.Load())
				return nil
			}
			if err := r.handle(ctx, line); err != nil {
				return err
			}
		}
	}
}

// subscriber is the part of the NATS client the router needs
type subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// consumeSubject routes every message on subject until ctx ends
func (r *router) consumeSubject(ctx context.Context, client subscriber, subject string) error {
	err := client.Subscribe(ctx, subject, func(msgCtx context.Context, data []byte) {
		if err := r.handle(msgCtx, data); err != nil {
			r.logger.Error("Failed to publish event", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return err
	}
	r.logger.Info("Consuming events", "subject", subject)

	<-ctx.Done()
	return nil
}
