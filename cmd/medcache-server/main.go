package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quantnex-cache/internal/audit"
	"quantnex-cache/internal/config"
	"quantnex-cache/internal/handlers"
	"quantnex-cache/internal/httpserver"
	"quantnex-cache/internal/invalidation"
	"quantnex-cache/internal/medcache"
	"quantnex-cache/internal/metrics"
	"quantnex-cache/internal/records"
	"quantnex-cache/internal/upstream"
	"quantnex-cache/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("medcache-server exited with error: %v", err)
	}
}

func run() error {
	// ----- Config -----
	cfg, err := config.Load(getenv("QUANTNEX_CONFIG", "quantnex.yaml"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// ----- Logger -----
	logger, err := logging.NewLogger(logging.Options{Env: cfg.Log.Env, Level: cfg.Log.Level})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	logging.SetDefault(logger)
	defer logger.Sync()

	logger.Info("loaded config",
		zap.Int("port", cfg.Server.Port),
		zap.String("upstream_backend", cfg.Upstream.Backend),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Bool("audit_file", cfg.Audit.Enabled),
		zap.Duration("sweep_interval", cfg.Cache.SweepInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ----- Audit -----
	sinks := []audit.Sink{metrics.AuditSink()}
	if cfg.Audit.Enabled {
		fileSink, err := audit.NewFileSink(audit.FileConfig{
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
			Compress:   cfg.Audit.Compress,
		})
		if err != nil {
			return err
		}
		defer fileSink.Close()
		sinks = append(sinks, fileSink)
	} else if cfg.Log.Env == "dev" {
		sinks = append(sinks, audit.LoggerSink(logger))
	}

	// ----- Caches -----
	var sealer medcache.Sealer
	if cfg.Cache.EncryptionKey != "" {
		if sealer, err = medcache.NewAESGCMSealerFromBase64(cfg.Cache.EncryptionKey); err != nil {
			return err
		}
	} else {
		logger.Warn("no cache encryption key configured, sealing with a per-process key")
	}

	base := medcache.Config{
		SweepInterval: cfg.Cache.SweepInterval,
		Sealer:        sealer,
		Audit:         audit.Multi(sinks...),
		Logger:        logger,
	}
	classConfig := func(name string, class config.CacheClass) medcache.Config {
		c := base
		c.Name = name
		c.Capacity = class.Capacity
		c.DefaultTTL = class.TTL
		return c
	}

	group := medcache.NewGroup()
	defer func() {
		if err := group.Close(); err != nil {
			logger.Error("cache close error", zap.Error(err))
		}
	}()

	patients, err := medcache.New[records.Patient](classConfig("patients", cfg.Caches.Patients))
	if err != nil {
		return err
	}
	group.Add(patients)

	reports, err := medcache.New[[]records.Report](classConfig("reports", cfg.Caches.Reports))
	if err != nil {
		return err
	}
	group.Add(reports)

	images, err := medcache.New[[]records.ImagingStudy](classConfig("images", cfg.Caches.Images))
	if err != nil {
		return err
	}
	group.Add(images)

	analytics, err := medcache.New[records.AnalyticsSnapshot](classConfig("analytics", cfg.Caches.Analytics))
	if err != nil {
		return err
	}
	group.Add(analytics)

	// ----- Metrics -----
	metrics.Register(prometheus.DefaultRegisterer, metrics.NewCacheCollector(group))

	// ----- Records source -----
	source, closeSource, err := newSource(cfg.Upstream, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	// ----- Invalidation bus (only if needed) -----
	var (
		publisher invalidation.Publisher = invalidation.Local{}
		ready     func(context.Context) error
	)
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		bus := invalidation.NewBus(redisClient, cfg.Redis.Channel, logger)

		// Fail fast if Redis is misconfigured
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := bus.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))

		publisher = bus
		ready = bus.Ping

		go func() {
			err := bus.Run(ctx, func(_ context.Context, ev invalidation.Event) {
				removed := group.ClearPatientData(ev.PatientID)
				logger.Info("remote purge applied",
					zap.String("from", ev.Origin),
					zap.Int("purged_entries", removed),
				)
			})
			if err != nil {
				logger.Error("invalidation bus stopped", zap.Error(err))
			}
		}()
	}

	// ----- Handlers -----
	loaderOpts := []medcache.LoaderOption{
		medcache.WithLoaderLogger(logger),
		medcache.WithLoadObserver(metrics.ObserveLoad),
		medcache.WithFetchTimeout(cfg.Server.RequestTimeout),
	}
	patientHandler := handlers.NewPatientHandler(handlers.Loaders{
		Patients:  medcache.NewLoader(patients, loaderOpts...),
		Reports:   medcache.NewLoader(reports, loaderOpts...),
		Images:    medcache.NewLoader(images, loaderOpts...),
		Analytics: medcache.NewLoader(analytics, loaderOpts...),
	}, source, group, publisher)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, patientHandler, httpserver.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Ready:          ready,
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	logger.Info("starting medcache-server", zap.String("addr", srv.Addr))

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ----- Graceful shutdown -----
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		logger.Error("server error", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

// newSource picks the records backend. The returned func releases it.
func newSource(cfg config.UpstreamConfig, logger *zap.Logger) (records.Source, func(), error) {
	switch cfg.Backend {
	case "http":
		client, err := upstream.NewClient(upstream.Config{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	default:
		logger.Warn("using in-memory records source with demo data")
		src := records.NewMemorySource()
		seedDemo(src)
		return src, func() {}, nil
	}
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
