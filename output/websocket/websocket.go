// Package websocket provides a sink that streams rendered events to a WebSocket
// endpoint as text frames.
//
// The sink dials lazily on the first Write. A failed write drops the connection and
// the next Write dials again, so a restarted server is picked up without restarting
// the publisher. Write errors are transient so callers can retry them.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/eventpublisher/errors"
)

// Config holds configuration for the WebSocket sink
type Config struct {
	URL          string            `json:"url"           yaml:"url"`
	Headers      map[string]string `json:"headers"       yaml:"headers"`
	WriteTimeout time.Duration     `json:"write_timeout" yaml:"write_timeout"`
	PingInterval time.Duration     `json:"ping_interval" yaml:"ping_interval"`
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
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unsupported URL scheme %q", u.Scheme))
	}
	if c.WriteTimeout < 0 || c.PingInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "durations must not be negative")
	}
	return nil
}

// Output writes each rendered event as one text frame
type Output struct {
	name         string
	url          string
	header       http.Header
	writeTimeout time.Duration
	pingInterval time.Duration
	dialer       *websocket.Dialer
	logger       *slog.Logger

	// writeMu serialises frame writes; gorilla/websocket panics on concurrent writers
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	messagesSent int64
	reconnects   int64
	errors       int64
}

// NewOutput creates a WebSocket sink. No connection is made until the first Write.
func NewOutput(config Config, logger *slog.Logger) (*Output, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	header := make(http.Header, len(config.Headers))
	for k, v := range config.Headers {
		header.Set(k, v)
	}

	w := &Output{
		name:         "websocket-output",
		url:          config.URL,
		header:       header,
		writeTimeout: config.WriteTimeout,
		pingInterval: config.PingInterval,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.WriteTimeout,
		},
		logger:   logger.With("component", "websocket-output", "url", config.URL),
		shutdown: make(chan struct{}),
	}

	if w.pingInterval > 0 {
		w.wg.Add(1)
		go w.keepAlive()
	}
	return w, nil
}

// Name returns the sink name
func (w *Output) Name() string {
	return w.name
}

// Connected reports whether a connection is currently open
func (w *Output) Connected() bool {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn != nil
}

// Write sends data as a text frame, dialing first when there is no connection
func (w *Output) Write(ctx context.Context, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if w.closed {
		return errors.WrapFatal(errors.ErrShuttingDown, "Output", "Write", "sink closed")
	}

	if w.conn == nil {
		if err := w.dial(ctx); err != nil {
			atomic.AddInt64(&w.errors, 1)
			return err
		}
	}

	deadline := time.Now().Add(w.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = w.conn.SetWriteDeadline(deadline)

	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		atomic.AddInt64(&w.errors, 1)
		w.dropConn()
		return errors.WrapTransient(err, "Output", "Write", "write frame")
	}

	atomic.AddInt64(&w.messagesSent, 1)
	return nil
}

// Close sends a close frame and releases the connection
func (w *Output) Close() error {
	w.closeOnce.Do(func() {
		close(w.shutdown)
		w.wg.Wait()

		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		w.closed = true
		if w.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			w.dropConn()
		}
	})
	return nil
}

// Sent returns the number of frames written
func (w *Output) Sent() int64 {
	return atomic.LoadInt64(&w.messagesSent)
}

// Reconnects returns how many times the sink dialed after the first connection
func (w *Output) Reconnects() int64 {
	return atomic.LoadInt64(&w.reconnects)
}

// dial must be called with writeMu held
func (w *Output) dial(ctx context.Context) error {
	conn, resp, err := w.dialer.DialContext(ctx, w.url, w.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.WrapTransient(err, "Output", "Write", "dial "+w.url)
	}

	if atomic.LoadInt64(&w.messagesSent) > 0 || atomic.LoadInt64(&w.errors) > 0 {
		atomic.AddInt64(&w.reconnects, 1)
	}

	// Drain inbound frames so control messages are processed and a server close is noticed
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	w.conn = conn
	w.logger.Debug("WebSocket connected")
	return nil
}

// dropConn must be called with writeMu held
func (w *Output) dropConn() {
	if w.conn == nil {
		return
	}
	_ = w.conn.Close()
	w.conn = nil
}

func (w *Output) keepAlive() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.shutdown:
			return
		case <-ticker.C:
			w.ping()
		}
	}
}

func (w *Output) ping() {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if w.conn == nil {
		return
	}
	if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout)); err != nil {
		w.logger.Debug("Ping failed, dropping connection", "error", err)
		atomic.AddInt64(&w.errors, 1)
		w.dropConn()
	}
}
