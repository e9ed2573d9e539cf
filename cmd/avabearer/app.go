package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/avabearer/internal/auth"
	"github.com/vyrodovalexey/avabearer/internal/auth/discovery"
	"github.com/vyrodovalexey/avabearer/internal/auth/jwks"
	"github.com/vyrodovalexey/avabearer/internal/auth/jwt"
	"github.com/vyrodovalexey/avabearer/internal/auth/replay"
	"github.com/vyrodovalexey/avabearer/internal/cache"
	"github.com/vyrodovalexey/avabearer/internal/config"
	"github.com/vyrodovalexey/avabearer/internal/fetch"
	"github.com/vyrodovalexey/avabearer/internal/health"
	"github.com/vyrodovalexey/avabearer/internal/middleware"
	"github.com/vyrodovalexey/avabearer/internal/observability"
)

// application holds all application components.
type application struct {
	config        *config.Config
	logger        observability.Logger
	tracer        *observability.Tracer
	registry      *prometheus.Registry
	verifier      *jwt.Verifier
	authenticator *auth.Authenticator
	store         cache.Store
	health        *health.Handler
	proxy         http.Handler
	routes        atomic.Pointer[routeTable]
	handler       http.Handler
}

// newApplication wires the verifier, the optional replay store, the route
// table and the HTTP handler chain. Nothing listens until run.
func newApplication(ctx context.Context, cfg *config.Config, logger observability.Logger) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	tracer, err := observability.NewTracer(ctx, cfg.Observability.Tracing.TracerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	app.tracer = tracer

	ns := cfg.Observability.Metrics.Namespace
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := app.initVerifier(ns); err != nil {
		app.close(ctx)
		return nil, err
	}

	authOpts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithMetrics(auth.NewMetricsWithRegisterer(ns, app.registry)),
		auth.WithSkipPaths(cfg.Server.SkipPaths...),
		auth.WithCredentialsOptional(cfg.Server.CredentialsOptional),
	}
	if cfg.Replay.Enabled {
		detector, err := app.initReplay(ctx, ns)
		if err != nil {
			app.close(ctx)
			return nil, err
		}
		authOpts = append(authOpts, auth.WithReplayDetector(detector))
	}

	app.authenticator, err = auth.NewAuthenticator(app.verifier, authOpts...)
	if err != nil {
		app.close(ctx)
		return nil, err
	}

	app.initHealth(ns)

	upstream, err := url.Parse(cfg.Server.Upstream)
	if err != nil {
		app.close(ctx)
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}
	app.proxy = newReverseProxy(upstream, logger)

	table, err := buildRouteTable(cfg.Routes, app.proxy)
	if err != nil {
		app.close(ctx)
		return nil, err
	}
	app.routes.Store(table)

	app.handler = app.buildHandler()
	return app, nil
}

func (app *application) initVerifier(ns string) error {
	verifierMetrics := jwt.NewMetrics(ns)
	verifierMetrics.MustRegister(app.registry)
	discoveryMetrics := discovery.NewMetrics(ns)
	discoveryMetrics.MustRegister(app.registry)
	keySetMetrics := jwks.NewMetrics(ns)
	keySetMetrics.MustRegister(app.registry)

	opts := []jwt.Option{
		jwt.WithLogger(app.logger),
		jwt.WithMetrics(verifierMetrics),
		jwt.WithDiscoveryMetrics(discoveryMetrics),
		jwt.WithKeySetMetrics(keySetMetrics),
	}
	if cb := app.config.CircuitBreaker; cb.Enabled {
		opts = append(opts, jwt.WithCircuitBreaker(
			fetch.NewCircuitBreaker(cb.BreakerConfig("authorization-server"), app.logger)))
	}

	verifier, err := jwt.NewVerifier(app.config.Verifier.Options(), opts...)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}
	app.verifier = verifier
	return nil
}

func (app *application) initReplay(ctx context.Context, ns string) (*replay.Detector, error) {
	cacheMetrics := cache.NewMetrics(ns)
	cacheMetrics.MustRegister(app.registry)

	store, err := cache.New(ctx, app.config.Replay.Cache.StoreConfig(),
		cache.WithLogger(app.logger),
		cache.WithMetrics(cacheMetrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create replay store: %w", err)
	}
	app.store = store

	rc := app.config.Replay
	opts := []replay.Option{
		replay.WithLogger(app.logger),
		replay.WithFailOpen(rc.FailOpen),
		replay.WithClockTolerance(app.verifier.Config().ClockTolerance),
	}
	if rc.MaxTTL > 0 {
		opts = append(opts, replay.WithMaxTTL(rc.MaxTTL.Duration()))
	}
	if rc.DefaultTTL > 0 {
		opts = append(opts, replay.WithDefaultTTL(rc.DefaultTTL.Duration()))
	}
	return replay.NewDetector(store, opts...)
}

func (app *application) initHealth(ns string) {
	healthMetrics := health.NewMetrics(ns)
	healthMetrics.MustRegister(app.registry)

	app.health = health.NewHandler(
		health.WithLogger(app.logger),
		health.WithMetrics(healthMetrics),
	)
	app.health.AddCheck(health.NewCheckFunc("authorization-server", app.verifier.Warmup))
	if p, ok := app.store.(health.Pinger); ok {
		app.health.AddCheck(health.PingCheck("replay-store", p))
	}
}

// buildHandler assembles the chain. Execution order, outermost first:
// Recovery -> RequestID -> Logging -> Tracing -> mux -> auth -> route -> proxy.
func (app *application) buildHandler() http.Handler {
	mux := http.NewServeMux()
	app.health.RegisterRoutes(mux)

	if m := app.config.Observability.Metrics; m.Enabled {
		mux.Handle("GET "+m.Path, promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	}

	mux.Handle("/", app.authenticator.HTTPMiddleware()(http.HandlerFunc(app.serveRoute)))

	var h http.Handler = mux
	h = observability.TracingMiddleware(app.tracer)(h)
	h = middleware.Logging(app.logger)(h)
	h = middleware.RequestID()(h)
	h = middleware.Recovery(app.logger)(h)
	return h
}

func (app *application) serveRoute(w http.ResponseWriter, r *http.Request) {
	app.routes.Load().handlerFor(r).ServeHTTP(w, r)
}

// reloadRoutes swaps in the route policies of cfg. Other sections need a
// restart to take effect.
func (app *application) reloadRoutes(cfg *config.Config) {
	table, err := buildRouteTable(cfg.Routes, app.proxy)
	if err != nil {
		app.logger.Error("route reload rejected", observability.Error(err))
		return
	}
	app.routes.Store(table)
	app.logger.Info("route policies reloaded", observability.Int("routes", len(cfg.Routes)))
}

// run serves until ctx is cancelled and then drains. A non-empty
// configPath enables route reloads on file change.
func (app *application) run(ctx context.Context, configPath string) error {
	ln, err := net.Listen("tcp", app.config.Server.Listen)
	if err != nil {
		app.close(ctx)
		return fmt.Errorf("failed to listen on %s: %w", app.config.Server.Listen, err)
	}
	return app.serve(ctx, ln, configPath)
}

func (app *application) serve(ctx context.Context, ln net.Listener, configPath string) error {
	var watcher *config.Watcher
	if configPath != "" {
		w, err := config.NewWatcher(configPath, app.reloadRoutes, config.WithLogger(app.logger))
		if err == nil {
			err = w.Start(ctx)
		}
		if err != nil {
			app.logger.Warn("configuration watch disabled", observability.Error(err))
		} else {
			watcher = w
		}
	}

	go func() {
		if err := app.verifier.Warmup(ctx); err != nil {
			app.logger.Warn("authorization server metadata not yet available", observability.Error(err))
		}
	}()

	server := &http.Server{
		Handler:           app.handler,
		ReadHeaderTimeout: app.config.Server.ReadHeaderTimeout.Duration(),
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("listening", observability.String("address", ln.Addr().String()))
		errCh <- server.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		app.logger.Info("shutdown requested")
	case serveErr = <-errCh:
	}

	app.health.SetDraining(true)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("failed to stop server gracefully", observability.Error(err))
	}
	if watcher != nil {
		_ = watcher.Stop()
	}
	app.close(shutdownCtx)

	app.logger.Info("avabearer stopped")

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

// close releases the replay store and flushes traces.
func (app *application) close(ctx context.Context) {
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.Error("failed to close replay store", observability.Error(err))
		}
	}
	if app.tracer != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := app.tracer.Shutdown(ctx); err != nil {
			app.logger.Error("failed to shutdown tracer", observability.Error(err))
		}
	}
}
