// Package publisher renders decoded events with the active output mapping and hands
// them to a sink.
//
// Events are admitted into a bounded worker pool. When the queue is full Publish blocks
// until there is room or the caller's context ends, so a slow sink slows producers down
// instead of dropping events. Workers apply an optional rate limit, render with the
// mapping snapshot current at that moment, and retry sink writes that fail with
// transient errors. Render failures are never retried.
//
// The mapping can be replaced at runtime with Reconfigure. Activation is fail closed:
// if the new template is malformed or references unknown attributes, the previous
// mapping keeps serving and the error is returned.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/eventpublisher/errors"
	"github.com/c360/eventpublisher/health"
	"github.com/c360/eventpublisher/mapping"
	"github.com/c360/eventpublisher/metric"
	"github.com/c360/eventpublisher/output"
	"github.com/c360/eventpublisher/pkg/retry"
	"github.com/c360/eventpublisher/pkg/worker"
	"github.com/c360/eventpublisher/schema"
)

// Config configures one publisher
type Config struct {
	Mapping   mapping.OutputMapping `json:"mapping"    yaml:"mapping"`
	Workers   int                   `json:"workers"    yaml:"workers"`
	QueueSize int                   `json:"queue_size" yaml:"queue_size"`
	// RateLimit is the maximum events per second handed to the sink. Zero disables it.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst     int     `json:"burst"      yaml:"burst"`
	// Retry controls sink retries. Only transient errors are retried.
	Retry retry.Config `json:"-" yaml:"-"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Workers < 0 || c.QueueSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"workers and queue_size must not be negative")
	}
	if c.RateLimit < 0 || c.Burst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit and burst must not be negative")
	}
	return c.Mapping.Validate()
}

// DefaultConfig returns a publisher configuration using the generated default mapping
func DefaultConfig() Config {
	return Config{
		Mapping:   mapping.OutputMapping{Type: mapping.TypeJSON, CustomMappingEnabled: mapping.Bool(false)},
		Workers:   4,
		QueueSize: 1000,
		Retry:     retry.DefaultConfig(),
	}
}

// Dependencies provides external collaborators
type Dependencies struct {
	Resolver        mapping.Resolver        // Source of registry templates (can be nil for inline/default mappings)
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
}

// Stats reports publisher counters
type Stats struct {
	StreamID     string
	MappingID    string
	MappingFrom  string
	Published    int64
	RenderErrors int64
	SinkErrors   int64
	Pool         worker.PoolStats
}

// Publisher renders events for one stream and writes them to one sink
type Publisher struct {
	name     string
	def      *schema.StreamDefinition
	sink     output.Sink
	resolver mapping.Resolver
	logger   *slog.Logger

	active    mapping.Active
	mappingMu sync.Mutex
	mapping   mapping.OutputMapping
	changed   chan struct{} // Signalled after each successful Reconfigure

	pool    *worker.Pool[[]any]
	limiter *rate.Limiter
	retry   retry.Config
	metrics *Metrics
	buffers sync.Pool

	started   atomic.Bool
	stopOnce  sync.Once
	startTime time.Time

	published    atomic.Int64
	renderErrors atomic.Int64
	sinkErrors   atomic.Int64
	lastActivity atomic.Int64
	lastErr      atomic.Pointer[errorRecord]
}

type errorRecord struct {
	err error
	at  time.Time
}

var metricNameRegex = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// New creates a publisher for def writing to sink. Nothing is activated until Start.
func New(cfg Config, def *schema.StreamDefinition, sink output.Sink, deps Dependencies) (*Publisher, error) {
	if def == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Publisher", "New", "stream definition required")
	}
	if sink == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Publisher", "New", "sink required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	streamID := def.StreamID()

	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}

	p := &Publisher{
		name:     "publisher-" + streamID,
		def:      def,
		sink:     sink,
		resolver: deps.Resolver,
		logger:   logger.With("component", "publisher", "stream", streamID, "sink", sink.Name()),
		mapping:  cfg.Mapping,
		changed:  make(chan struct{}, 1),
		retry:    retryCfg,
		metrics:  newMetrics(deps.MetricsRegistry, streamID),
	}

	p.retry.RetryIf = errors.IsTransient
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	p.buffers.New = func() any {
		buf := make([]byte, 0, 512)
		return &buf
	}

	var opts []worker.Option[[]any]
	if deps.MetricsRegistry != nil {
		prefix := "publisher_" + metricNameRegex.ReplaceAllString(streamID, "_")
		opts = append(opts, worker.WithMetricsRegistry[[]any](deps.MetricsRegistry, prefix))
	}
	p.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, p.process, opts...)

	return p, nil
}

// Name returns the publisher name
func (p *Publisher) Name() string {
	return p.name
}

// StreamID returns the stream this publisher renders
func (p *Publisher) StreamID() string {
	return p.def.StreamID()
}

// Mapper returns the active mapping snapshot, or nil before Start
func (p *Publisher) Mapper() *mapping.Mapper {
	return p.active.Load()
}

// Start activates the configured mapping and starts the workers. Activation errors
// are returned as is, so callers can inspect them with errors.As.
func (p *Publisher) Start(ctx context.Context) error {
	if p.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Publisher", "Start", "check running state")
	}

	// The active snapshot and p.mapping only change together under mappingMu
	p.mappingMu.Lock()
	m, err := p.active.Activate(ctx, p.mapping, p.def, p.resolver)
	p.mappingMu.Unlock()
	p.metrics.activation(err == nil)
	if err != nil {
		p.logger.Error("Mapping activation failed", "error", err)
		return err
	}

	if err := p.pool.Start(ctx); err != nil {
		return errors.WrapFatal(err, "Publisher", "Start", "start worker pool")
	}

	p.startTime = time.Now()
	p.started.Store(true)
	p.logger.Info("Publisher started",
		"mapping_id", m.ID(),
		"mapping_source", m.Source(),
		"placeholders", m.Template().Placeholders())
	return nil
}

// Publish queues event for rendering, blocking while the queue is full. It returns
// ctx.Err() if ctx ends first. Delivery errors are logged and counted, not returned.
func (p *Publisher) Publish(ctx context.Context, event []any) error {
	if !p.started.Load() {
		return errors.WrapFatal(errors.ErrNotStarted, "Publisher", "Publish", "check running state")
	}
	return p.pool.SubmitWait(ctx, event)
}

// PublishSync renders and delivers event on the calling goroutine and returns the result
func (p *Publisher) PublishSync(ctx context.Context, event []any) error {
	if !p.started.Load() {
		return errors.WrapFatal(errors.ErrNotStarted, "Publisher", "PublishSync", "check running state")
	}
	return p.deliver(ctx, event)
}

// Reconfigure activates a new mapping. On failure the current mapping stays active
// and the error is returned.
func (p *Publisher) Reconfigure(ctx context.Context, cfg mapping.OutputMapping) error {
	p.mappingMu.Lock()
	defer p.mappingMu.Unlock()

	previous := p.active.Load()
	m, err := p.active.Activate(ctx, cfg, p.def, p.resolver)
	p.metrics.activation(err == nil)
	if err != nil {
		attrs := []any{"error", err}
		if previous != nil {
			attrs = append(attrs, "kept_mapping_id", previous.ID())
		}
		p.logger.Warn("Mapping reconfiguration rejected", attrs...)
		return err
	}

	p.mapping = cfg
	select {
	case p.changed <- struct{}{}:
	default:
	}
	p.logger.Info("Mapping reconfigured", "mapping_id", m.ID(), "mapping_source", m.Source())
	return nil
}

// Reload re-resolves and re-activates the current mapping configuration. It is used
// when a registry template changes underneath the publisher.
func (p *Publisher) Reload(ctx context.Context) error {
	p.mappingMu.Lock()
	cfg := p.mapping
	p.mappingMu.Unlock()
	return p.Reconfigure(ctx, cfg)
}

// MappingConfig returns the mapping configuration that produced the active snapshot
func (p *Publisher) MappingConfig() mapping.OutputMapping {
	p.mappingMu.Lock()
	defer p.mappingMu.Unlock()
	return p.mapping
}

// Stop drains queued events, then closes the sink. Safe to call more than once.
func (p *Publisher) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		poolErr := p.pool.Stop(timeout)
		sinkErr := p.sink.Close()
		p.started.Store(false)

		switch {
		case poolErr != nil:
			err = errors.WrapTransient(poolErr, "Publisher", "Stop", "drain worker pool")
		case sinkErr != nil:
			err = errors.Wrap(sinkErr, "Publisher", "Stop", "close sink")
		}

		stats := p.Stats()
		p.logger.Info("Publisher stopped",
			"published", stats.Published,
			"render_errors", stats.RenderErrors,
			"sink_errors", stats.SinkErrors)
	})
	return err
}

// Health reports whether the publisher is running and delivering. A sink or render
// error within the last minute makes it degraded.
func (p *Publisher) Health() health.Status {
	var status health.Status
	m := p.active.Load()

	switch {
	case !p.started.Load():
		status = health.NewUnhealthy(p.name, "not running")
	case m == nil:
		status = health.NewUnhealthy(p.name, "no mapping activated")
	default:
		status = health.NewHealthy(p.name, fmt.Sprintf("mapping %s from %s", m.ID(), m.Source()))
		if rec := p.lastErr.Load(); rec != nil && time.Since(rec.at) < time.Minute {
			degraded := health.FromError(p.name, rec.err, "")
			status = health.NewDegraded(p.name, degraded.Message)
		}
	}

	var last time.Time
	if ns := p.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	var uptime time.Duration
	if p.started.Load() {
		uptime = time.Since(p.startTime)
	}
	return status.WithMetrics(&health.Metrics{
		Uptime:            uptime,
		ErrorCount:        p.renderErrors.Load() + p.sinkErrors.Load(),
		MessagesProcessed: p.published.Load(),
		LastActivity:      last,
	})
}

// Stats returns a snapshot of the publisher counters
func (p *Publisher) Stats() Stats {
	s := Stats{
		StreamID:     p.def.StreamID(),
		Published:    p.published.Load(),
		RenderErrors: p.renderErrors.Load(),
		SinkErrors:   p.sinkErrors.Load(),
		Pool:         p.pool.Stats(),
	}
	if m := p.active.Load(); m != nil {
		s.MappingID = m.ID()
		s.MappingFrom = m.Source()
	}
	return s
}

// process is the worker pool callback
func (p *Publisher) process(ctx context.Context, event []any) error {
	if err := p.deliver(ctx, event); err != nil {
		p.logger.Warn("Event delivery failed", "error", err)
		return err
	}
	return nil
}

func (p *Publisher) deliver(ctx context.Context, event []any) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return errors.WrapTransient(err, "Publisher", "deliver", "wait for rate limit")
		}
	}

	m := p.active.Load()
	if m == nil {
		return mapping.ErrNotActivated
	}

	bufPtr := p.buffers.Get().(*[]byte)
	defer func() {
		p.buffers.Put(bufPtr)
	}()

	start := time.Now()
	data, err := m.AppendRender((*bufPtr)[:0], event)
	p.metrics.renderDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.renderErrors.Add(1)
		p.metrics.renderErrors.Inc()
		p.recordError(err)
		return err
	}
	*bufPtr = data
	p.metrics.outputBytes.Observe(float64(len(data)))

	attempt := 0
	err = retry.Do(ctx, p.retry, func() error {
		if attempt++; attempt > 1 {
			p.metrics.retries.Inc()
		}
		return p.sink.Write(ctx, data)
	})
	if err != nil {
		p.sinkErrors.Add(1)
		p.metrics.sinkErrors.Inc()
		p.recordError(err)
		return err
	}

	p.published.Add(1)
	p.metrics.published.Inc()
	p.lastActivity.Store(time.Now().UnixNano())
	return nil
}

func (p *Publisher) recordError(err error) {
	p.lastErr.Store(&errorRecord{err: err, at: time.Now()})
}
