package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ertriage/ertriage/internal/config"
	"github.com/ertriage/ertriage/internal/domain/emergency"
	"github.com/ertriage/ertriage/internal/domain/triage"
	"github.com/ertriage/ertriage/internal/platform/db"
	"github.com/ertriage/ertriage/internal/platform/events"
	"github.com/ertriage/ertriage/internal/platform/metrics"
	"github.com/ertriage/ertriage/internal/platform/middleware"
	"github.com/ertriage/ertriage/migrations"
)

const version = "0.1.0"

// store is the opened persistence backend.
type store struct {
	repo   emergency.Repository
	health echo.HandlerFunc
	close  func()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store, error) {
	if cfg.DatabaseDriver == db.DriverPostgres {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
		if err != nil {
			return nil, err
		}
		if cfg.DBAutoMigrate {
			n, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info().Int("applied", n).Msg("migrations up to date")
		}
		return &store{
			repo:   emergency.NewRepoPG(pool),
			health: db.HealthHandler(pool),
			close:  pool.Close,
		}, nil
	}

	gdb, err := db.OpenGorm(cfg.DatabaseDriver, cfg.DatabaseURL, int(cfg.DBMaxConns), logger)
	if err != nil {
		return nil, err
	}
	repo := emergency.NewRepoGorm(gdb)
	if cfg.DBAutoMigrate {
		if err := repo.AutoMigrate(ctx); err != nil {
			closeGorm(gdb)
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	return &store{
		repo:   repo,
		health: db.SQLHealthHandler(cfg.DatabaseDriver, sqlDB),
		close:  func() { closeGorm(gdb) },
	}, nil
}

func closeGorm(gdb *gorm.DB) {
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.Close()
	}
}

// eventPipeline owns the dispatcher and the broker clients behind its sinks.
type eventPipeline struct {
	dispatcher *events.Dispatcher
	closers    []func()
}

func newEventPipeline(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*eventPipeline, error) {
	p := &eventPipeline{}
	sinks := []events.Sink{events.NewLogSink(logger), metrics.Sink{}}

	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			p.closeClients()
			return nil, err
		}
		p.closers = append(p.closers, func() { client.Close() })
		sinks = append(sinks, events.NewRedisStreamSink(client, cfg.RedisStream, cfg.RedisMaxLen))
		logger.Info().Str("stream", cfg.RedisStream).Msg("publishing triage events to redis")
	}

	if cfg.MQTTBroker != "" {
		client, err := events.NewMQTTClient(cfg.MQTTBroker, cfg.MQTTClientID, logger)
		if err != nil {
			p.closeClients()
			return nil, err
		}
		p.closers = append(p.closers, client.Disconnect)
		sinks = append(sinks, events.NewMQTTSink(client, cfg.MQTTTopic, byte(cfg.MQTTQoS)))
		logger.Info().Str("broker", cfg.MQTTBroker).Str("topic", cfg.MQTTTopic).Msg("publishing triage events to mqtt")
	}

	p.dispatcher = events.NewDispatcher(logger, cfg.EventBuffer, metrics.DispatcherHooks(), sinks...)
	return p, nil
}

// Close drains pending events before disconnecting the brokers.
func (p *eventPipeline) Close() {
	p.dispatcher.Close()
	p.closeClients()
}

func (p *eventPipeline) closeClients() {
	for _, c := range p.closers {
		c()
	}
}

func newService(cfg *config.Config, repo emergency.Repository, pub events.Publisher, logger zerolog.Logger) (*emergency.Service, error) {
	scorer, err := newScorer(cfg.TriagePolicy, cfg.TriageRulesFile)
	if err != nil {
		return nil, err
	}
	svc := emergency.NewService(repo, scorer)
	svc.SetStatusPolicy(triage.StatusPolicy{Mode: cfg.TransitionMode()})
	svc.SetPublisher(pub)
	svc.SetLogger(logger)
	svc.SetListCacheTTL(cfg.ListCacheTTL)
	return svc, nil
}

// newServer builds the echo instance with the full middleware chain and
// every route mounted.
func newServer(cfg *config.Config, svc *emergency.Service, dbHealth echo.HandlerFunc, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"policy":  string(svc.Scorer().Policy()),
		})
	})
	if dbHealth != nil {
		e.GET("/health/db", dbHealth)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleExpiry:        middleware.DefaultRateLimitConfig().IdleExpiry,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(echomw.BodyLimit(bodyLimit(cfg)))
	if cfg.RequestTimeout > 0 {
		// The workbook export reads the whole audit trail.
		apiV1.Use(middleware.Timeout(cfg.RequestTimeout, "/api/v1/logs/export"))
	}
	apiV1.Use(middleware.Sanitize(logger))

	emergency.NewHandler(svc).RegisterRoutes(apiV1)

	if cfg.StaticDir != "" {
		e.Static("/", cfg.StaticDir)
	}

	return e
}

func bodyLimit(cfg *config.Config) string {
	if cfg.BodyLimit == "" {
		return "1M"
	}
	return cfg.BodyLimit
}

func initSentry(cfg *config.Config, logger zerolog.Logger) (flush func()) {
	if cfg.SentryDSN == "" {
		return func() {}
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Env,
		Release:     "triage-server@" + version,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("sentry disabled")
		return func() {}
	}
	logger.Info().Msg("sentry error reporting enabled")
	return func() { sentry.Flush(2 * time.Second) }
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg, os.Stdout)

	flush := initSentry(cfg, logger)
	defer flush()

	// Database
	ctx := context.Background()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.close()
	logger.Info().Str("driver", cfg.DatabaseDriver).Msg("connected to database")

	// Events
	pipeline, err := newEventPipeline(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start event pipeline: %w", err)
	}
	defer pipeline.Close()

	svc, err := newService(cfg, st.repo, pipeline.dispatcher, logger)
	if err != nil {
		return err
	}
	logger.Info().
		Str("policy", string(svc.Scorer().Policy())).
		Str("transitions", string(cfg.TransitionMode())).
		Msg("triage configured")

	e := newServer(cfg, svc, st.health, logger)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
