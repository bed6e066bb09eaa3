// Package worker provides a bounded worker pool with blocking and non-blocking admission
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/eventpublisher/metric"
)

// Pool runs a fixed number of workers over a bounded queue of work items of type T
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	done     chan struct{} // closed when Stop begins; releases blocked submitters
	wg       sync.WaitGroup

	// admitMu is held shared by submitters and exclusively by Stop, so the
	// work channel is never closed under a pending send.
	admitMu  sync.RWMutex
	started  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	waited    atomic.Int64
	busy      atomic.Int64

	metrics         *Metrics
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// Metrics holds Prometheus metrics for pool monitoring
type Metrics struct {
	queueDepth     prometheus.Gauge
	utilization    prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	rejected       prometheus.Counter
	admissionWait  prometheus.Histogram
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics under prefix
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// NewPool creates a pool. Non-positive workers or queueSize fall back to 10 and 1000.
// It panics if processor is nil.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.metricsRegistry != nil && p.metricsPrefix != "" {
		p.initializeMetrics()
	}
	return p
}

func (p *Pool[T]) initializeMetrics() {
	prefix := p.metricsPrefix
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Work items waiting in the queue",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_utilization",
			Help: "Fraction of workers currently processing (0-1)",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Work items admitted to the queue",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_processed_total",
			Help: "Work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_failed_total",
			Help: "Work items whose processing returned an error",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_rejected_total",
			Help: "Work items refused because the queue was full or admission was cancelled",
		}),
		admissionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "_admission_wait_seconds",
			Help:    "Time submitters spent blocked waiting for queue space",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing work items",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"status"}),
	}

	const serviceName = "worker_pool"
	r := p.metricsRegistry
	// Registration failures leave the pool usable; metrics are simply not exported.
	_ = r.RegisterGauge(serviceName, prefix+"_queue_depth", m.queueDepth)
	_ = r.RegisterGauge(serviceName, prefix+"_utilization", m.utilization)
	_ = r.RegisterCounter(serviceName, prefix+"_submitted_total", m.submitted)
	_ = r.RegisterCounter(serviceName, prefix+"_processed_total", m.processed)
	_ = r.RegisterCounter(serviceName, prefix+"_failed_total", m.failed)
	_ = r.RegisterCounter(serviceName, prefix+"_rejected_total", m.rejected)
	_ = r.RegisterHistogram(serviceName, prefix+"_admission_wait_seconds", m.admissionWait)
	_ = r.RegisterHistogramVec(serviceName, prefix+"_processing_duration_seconds", m.processingTime)

	p.metrics = m
}

// Start launches the workers. They stop when ctx is cancelled or Stop drains the queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.admitMu.Lock()
	defer p.admitMu.Unlock()

	if p.stopping.Load() {
		return ErrPoolStopped
	}
	if p.started.Load() {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	if p.metrics != nil {
		p.wg.Add(1)
		go p.metricsUpdater(ctx)
	}

	p.started.Store(true)
	return nil
}

// Submit enqueues work without blocking. It returns ErrQueueFull when there is no room.
func (p *Pool[T]) Submit(work T) error {
	p.admitMu.RLock()
	defer p.admitMu.RUnlock()

	if err := p.admissible(); err != nil {
		return err
	}

	select {
	case p.workChan <- work:
		p.admitted()
		return nil
	default:
		p.reject()
		return ErrQueueFull
	}
}

// SubmitWait enqueues work, blocking while the queue is full. It returns ctx.Err() if ctx
// ends first and ErrPoolStopped if the pool stops while waiting.
func (p *Pool[T]) SubmitWait(ctx context.Context, work T) error {
	p.admitMu.RLock()
	defer p.admitMu.RUnlock()

	if err := p.admissible(); err != nil {
		return err
	}

	// Fast path when there is room
	select {
	case p.workChan <- work:
		p.admitted()
		return nil
	default:
	}

	p.waited.Add(1)
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.admissionWait.Observe(time.Since(start).Seconds())
		}
	}()

	select {
	case p.workChan <- work:
		p.admitted()
		return nil
	case <-ctx.Done():
		p.reject()
		return ctx.Err()
	case <-p.done:
		p.reject()
		return ErrPoolStopped
	}
}

func (p *Pool[T]) admissible() error {
	if p.stopping.Load() {
		return ErrPoolStopped
	}
	if !p.started.Load() {
		return ErrPoolNotStarted
	}
	return nil
}

func (p *Pool[T]) admitted() {
	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}

func (p *Pool[T]) reject() {
	p.rejected.Add(1)
	if p.metrics != nil {
		p.metrics.rejected.Inc()
	}
}

// Stop refuses new work, lets workers drain the queue and waits up to timeout for them.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	if !p.started.Load() {
		return nil
	}

	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		close(p.done)

		p.admitMu.Lock()
		close(p.workChan)
		p.admitMu.Unlock()
	})

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-finished:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns a snapshot of pool counters
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Busy:       int(p.busy.Load()),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Rejected:   p.rejected.Load(),
		Waited:     p.waited.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Busy       int   `json:"busy"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Rejected   int64 `json:"rejected"`
	Waited     int64 `json:"waited"` // submissions that had to block for space
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	p.busy.Add(1)
	defer p.busy.Add(-1)

	start := time.Now()
	err := p.processor(ctx, work)
	elapsed := time.Since(start)

	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}

	if p.metrics != nil {
		p.metrics.processed.Inc()
		status := "success"
		if err != nil {
			p.metrics.failed.Inc()
			status = "error"
		}
		p.metrics.processingTime.WithLabelValues(status).Observe(elapsed.Seconds())
	}
}

func (p *Pool[T]) metricsUpdater(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
			p.metrics.utilization.Set(float64(p.busy.Load()) / float64(p.workers))
		}
	}
}
