package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/eventpublisher/config"
	"github.com/c360/eventpublisher/errors"
	"github.com/c360/eventpublisher/health"
	"github.com/c360/eventpublisher/mapping"
	"github.com/c360/eventpublisher/metric"
	"github.com/c360/eventpublisher/natsclient"
	"github.com/c360/eventpublisher/output"
	"github.com/c360/eventpublisher/publisher"
	"github.com/c360/eventpublisher/schema"
)

// app owns every long-lived part of the process
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer

	nats       *natsclient.Client
	metrics    *metric.MetricsRegistry
	monitor    *health.Monitor
	schemas    *schema.MemoryRegistry
	resolver   mapping.Resolver
	publishers []*publisher.Publisher
	router     *router
}

// newApp loads stream definitions, connects to NATS when the configuration
// needs it and builds the template resolver. Publishers are built separately
// so a validation run never opens sinks.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		stdout:  os.Stdout,
		metrics: metric.NewMetricsRegistry(),
		monitor: health.NewMonitor(),
		schemas: schema.NewMemoryRegistry(),
		router:  newRouter(logger),
	}

	if err := a.loadSchemas(); err != nil {
		return nil, err
	}

	if cfg.UsesNATS() {
		if err := a.connectNATS(ctx); err != nil {
			return nil, err
		}
	}

	resolver, err := a.buildResolver(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.resolver = resolver
	return a, nil
}

func (a *app) loadSchemas() error {
	for _, path := range a.cfg.Schemas {
		defs, err := schema.LoadDefinitions(path)
		if err != nil {
			return fmt.Errorf("load schemas %s: %w", path, err)
		}
		for _, def := range defs {
			if err := a.schemas.Register(def); err != nil {
				return fmt.Errorf("register schema from %s: %w", path, err)
			}
		}
	}
	a.logger.Info("Stream definitions loaded", "streams", a.schemas.List())
	return nil
}

func (a *app) connectNATS(ctx context.Context) error {
	nc := a.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(a.logger),
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				a.monitor.UpdateHealthy("nats", "connected")
			} else {
				a.monitor.UpdateUnhealthy("nats", "disconnected")
			}
		}),
	}
	if nc.ConnectTimeout > 0 {
		opts = append(opts, natsclient.WithTimeout(nc.ConnectTimeout))
	}
	if nc.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(nc.ReconnectWait))
	}
	if nc.Username != "" {
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	if nc.Token != "" {
		opts = append(opts, natsclient.WithToken(nc.Token))
	}

	client, err := natsclient.NewClient(nc.URL, opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	a.logger.Info("Connecting to NATS", "url", nc.URL)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	a.nats = client
	a.monitor.UpdateHealthy("nats", "connected")
	return nil
}

func (a *app) buildResolver(ctx context.Context) (mapping.Resolver, error) {
	switch a.cfg.Registry.Type {
	case config.RegistryKV:
		kv, err := a.nats.KeyValue(ctx, a.cfg.Registry.Bucket, false)
		if err != nil {
			return nil, fmt.Errorf("open template bucket %s: %w", a.cfg.Registry.Bucket, err)
		}
		return mapping.NewKVResolver(kv), nil
	default:
		return mapping.FileResolver{Root: a.cfg.Registry.Root}, nil
	}
}

// checkMappings activates every stream's mapping without opening sinks and
// writes each resulting template to w.
func (a *app) checkMappings(ctx context.Context, w io.Writer) error {
	for _, s := range a.cfg.Streams {
		def, err := a.schemas.Get(ctx, s.StreamID)
		if err != nil {
			return fmt.Errorf("stream %s: %w", s.StreamID, err)
		}
		m, err := mapping.NewMapper(ctx, s.PublisherConfig().Mapping, def, a.resolver)
		if err != nil {
			return fmt.Errorf("stream %s: %w", s.StreamID, err)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", s.StreamID, m.Source(), m.Template().Raw()); err != nil {
			return err
		}
	}
	a.logger.Info("Configuration is valid", "streams", len(a.cfg.Streams))
	return nil
}

// buildPublishers creates one sink and publisher per configured stream
func (a *app) buildPublishers(ctx context.Context) error {
	for _, s := range a.cfg.Streams {
		def, err := a.schemas.Get(ctx, s.StreamID)
		if err != nil {
			return fmt.Errorf("stream %s: %w", s.StreamID, err)
		}

		sink, err := output.New(ctx, s.Sink, output.Dependencies{
			NATSClient: a.nats,
			Logger:     a.logger,
			Stdout:     a.stdout,
		})
		if err != nil {
			return fmt.Errorf("stream %s: %w", s.StreamID, err)
		}

		p, err := publisher.New(s.PublisherConfig(), def, sink, publisher.Dependencies{
			Resolver:        a.resolver,
			MetricsRegistry: a.metrics,
			Logger:          a.logger,
		})
		if err != nil {
			_ = sink.Close()
			return fmt.Errorf("stream %s: %w", s.StreamID, err)
		}

		a.publishers = append(a.publishers, p)
		a.monitor.Register(p.Name(), p)
		a.router.add(def, p)
	}
	return nil
}

// run starts every publisher, consumes input until it ends or ctx is
// cancelled, then drains the publishers within shutdownTimeout.
func (a *app) run(ctx context.Context, in io.Reader, shutdownTimeout time.Duration) error {
	for _, p := range a.publishers {
		if err := p.Start(ctx); err != nil {
			_ = a.stopPublishers(shutdownTimeout)
			return fmt.Errorf("start %s: %w", p.Name(), err)
		}
	}
	a.logger.Info("Publishers started", "count", len(a.publishers))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// The process ends when its input does
		defer cancel()
		if a.cfg.Input.Type == config.InputNATS {
			return a.router.consumeSubject(gctx, a.nats, a.cfg.Input.Subject)
		}
		return a.router.consumeLines(gctx, in)
	})

	if a.cfg.Metrics.Enabled {
		g.Go(func() error { return a.serveHTTP(gctx) })
	}

	if a.cfg.Registry.Type == config.RegistryFile {
		for _, p := range a.publishers {
			g.Go(func() error { return p.WatchTemplates(gctx, a.cfg.Registry.Root) })
		}
	}

	err := g.Wait()
	a.logger.Info("Shutting down", "timeout", shutdownTimeout)
	if stopErr := a.stopPublishers(shutdownTimeout); err == nil {
		err = stopErr
	}
	return err
}

func (a *app) stopPublishers(timeout time.Duration) error {
	var errs []error
	for _, p := range a.publishers {
		if err := p.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", p.Name(), err))
		}
	}
	return stderrors.Join(errs...)
}

// serveHTTP exposes /metrics and /health until ctx ends
func (a *app) serveHTTP(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/health", a.monitor.Handler(appName))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	a.logger.Info("Serving metrics and health", "addr", srv.Addr)

	select {
	case err := <-errc:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WrapFatal(err, "app", "serveHTTP", "listen on "+srv.Addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (a *app) close() {
	if a.nats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.nats.Close(ctx); err != nil {
			a.logger.Warn("Closing NATS client failed", "error", err)
		}
	}
}
