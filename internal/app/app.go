// Package app wires the checkout service together: configuration, logging,
// metrics, storage, the store API client, the session manager and the HTTP
// server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wufi/storefront-checkout/internal/backend"
	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/config"
	"github.com/wufi/storefront-checkout/internal/connectivity"
	"github.com/wufi/storefront-checkout/internal/consent"
	"github.com/wufi/storefront-checkout/internal/logging"
	"github.com/wufi/storefront-checkout/internal/metrics"
	"github.com/wufi/storefront-checkout/internal/pool"
	"github.com/wufi/storefront-checkout/internal/session"
	"github.com/wufi/storefront-checkout/internal/storage"
	"github.com/wufi/storefront-checkout/internal/tracker"
	httptransport "github.com/wufi/storefront-checkout/internal/transport/http"
)

// Options tune New beyond the config file.
type Options struct {
	// ConfigPath is watched for changes when set.
	ConfigPath string
	// Logger replaces the logger built from the config.
	Logger *zap.Logger
}

// App is the assembled service.
type App struct {
	cfg        atomic.Pointer[config.Config]
	configPath string

	logger   *zap.Logger
	level    zap.AtomicLevel
	metrics  *metrics.Metrics
	storage  storage.Store
	backend  backend.Client
	tracing  *sdktrace.TracerProvider
	monitor  *connectivity.Monitor
	sessions *session.Manager
	router   *gin.Engine
}

// New builds an App from cfg. Close releases what New opened.
func New(cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{configPath: opts.ConfigPath}
	a.cfg.Store(cfg)

	if opts.Logger != nil {
		a.logger = opts.Logger
		a.level = zap.NewAtomicLevel()
	} else {
		logger, level, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		a.logger, a.level = logger, level
	}
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	mcfg := metrics.DefaultConfig()
	if cfg.Metrics.Namespace != "" {
		mcfg.Namespace = cfg.Metrics.Namespace
	}
	a.metrics = metrics.New(mcfg)

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.storage = store

	a.backend = a.newBackend(cfg)
	a.monitor = connectivity.NewMonitor(true)

	a.sessions = session.NewManager(session.Config{
		Backend:  a.backend,
		Storage:  a.storage,
		Tracker:  tracker.New(a.metrics.SubmissionsInFlight),
		Observer: a.metrics.Observer(),
		Orders:   a.metrics,
		Defaults: a.autoAdvancementDefaults,
		Open:     a.metrics.SessionsOpen,
		Logger:   a.logger,
	})

	h := httptransport.New(httptransport.Config{
		Sessions:       a.sessions,
		Consent:        consent.NewService(a.storage, time.Now),
		Slots:          pool.New(cfg.Server.MaxInFlight),
		RequestTimeout: cfg.GetRequestTimeout(),
		Logger:         a.logger,
	})
	var exposed *metrics.Metrics
	if cfg.Metrics.Enabled {
		exposed = a.metrics
	}
	a.router = httptransport.NewRouter(h, exposed, a.logger)

	a.logger.Info("checkout service configured",
		zap.String("backend", cfg.Backend.Mode),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("max_in_flight", cfg.Server.MaxInFlight),
	)
	return a, nil
}

func (a *App) newBackend(cfg *config.Config) backend.Client {
	if cfg.Backend.Mode == config.BackendSimulated {
		opts := []backend.SimOption{
			backend.WithDefaultDelay(cfg.GetSimulatedDelay()),
			backend.WithJitter(cfg.GetSimulatedJitter()),
			backend.WithFailureRate(cfg.Backend.SimulatedFailureRate),
		}
		if cfg.Backend.SimulatedSeed != 0 {
			opts = append(opts, backend.WithSeed(cfg.Backend.SimulatedSeed))
		}
		return backend.NewSimulated(opts...)
	}
	a.tracing = sdktrace.NewTracerProvider()
	return backend.NewHTTPClient(backend.HTTPConfig{
		BaseURL:          cfg.Backend.BaseURL,
		PublishableKey:   cfg.Backend.PublishableKey,
		Timeout:          cfg.GetBackendTimeout(),
		FailureThreshold: cfg.Backend.FailureThreshold,
		OpenTimeout:      cfg.GetBreakerOpenTimeout(),
	},
		backend.WithLogger(a.logger),
		backend.WithRecorder(a.metrics),
		backend.WithTracerProvider(a.tracing),
	)
}

func (a *App) autoAdvancementDefaults() checkout.AutoAdvancement {
	return a.cfg.Load().Checkout.AutoAdvancement
}

// Config returns the active configuration.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Logger returns the service logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Handler returns the HTTP handler of the service.
func (a *App) Handler() http.Handler { return a.router }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Reload applies a changed configuration. Only the log level and the
// auto-advancement defaults of new sessions take effect without a restart.
func (a *App) Reload(cfg *config.Config) {
	a.cfg.Store(cfg)
	if err := logging.SetLevel(a.level, cfg.Logging.Level); err != nil {
		a.logger.Warn("keeping log level", zap.String("level", cfg.Logging.Level), zap.Error(err))
	}
	a.logger.Info("configuration reloaded")
}

// Run listens on the configured address and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config().Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts the server and every
// session down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	cfg := a.Config()
	srv := &http.Server{
		Handler:           a.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      cfg.GetRequestTimeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		a.broadcast(gctx)
		return nil
	})
	if cfg.Connectivity.ProbeURL != "" {
		p := &connectivity.Prober{
			URL:      cfg.Connectivity.ProbeURL,
			Interval: cfg.GetProbeInterval(),
			Monitor:  a.monitor,
			Logger:   a.logger,
		}
		g.Go(func() error {
			if err := p.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.logger)
		if err != nil {
			a.logger.Warn("config hot reload disabled", zap.Error(err))
		} else {
			g.Go(func() error {
				w.Run(gctx, a.Reload)
				return nil
			})
		}
	}

	err := g.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
	defer cancel()
	if cerr := a.Close(sctx); err == nil {
		err = cerr
	}
	return err
}

// broadcast forwards store API reachability to every open session.
func (a *App) broadcast(ctx context.Context) {
	ch, unsubscribe := a.monitor.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-ch:
			if !ok {
				return
			}
			n := a.sessions.Broadcast(online)
			a.logger.Info("store api reachability changed", zap.Bool("online", online), zap.Int("sessions", n))
		}
	}
}

// Close stops every session and releases storage and tracing.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.sessions.Shutdown(ctx); err != nil && !errors.Is(err, session.ErrClosed) {
		errs = append(errs, fmt.Errorf("shutdown sessions: %w", err))
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	if err := a.storage.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
