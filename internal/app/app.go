// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mttmxr-creator/BotAICurator/internal/auth"
	"github.com/mttmxr-creator/BotAICurator/internal/config"
	"github.com/mttmxr-creator/BotAICurator/internal/delivery"
	"github.com/mttmxr-creator/BotAICurator/internal/domain"
	"github.com/mttmxr-creator/BotAICurator/internal/notify"
	"github.com/mttmxr-creator/BotAICurator/internal/notify/telegram"
	"github.com/mttmxr-creator/BotAICurator/internal/pkg/ctxlog"
	"github.com/mttmxr-creator/BotAICurator/internal/pkg/httputil"
	"github.com/mttmxr-creator/BotAICurator/internal/pkg/metrics"
	"github.com/mttmxr-creator/BotAICurator/internal/pkg/postgres"
	"github.com/mttmxr-creator/BotAICurator/internal/queue"
	"github.com/mttmxr-creator/BotAICurator/internal/scheduler"
	filestore "github.com/mttmxr-creator/BotAICurator/internal/storage/file"
	storagepostgres "github.com/mttmxr-creator/BotAICurator/internal/storage/postgres"
	"github.com/mttmxr-creator/BotAICurator/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool // nil for the file backend
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	engine        *queue.Engine
	deliveryQueue *delivery.Queue
	scheduler     *scheduler.Worker
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	return NewWithClock(cfg, clockwork.NewRealClock())
}

// NewWithClock creates an application instance with an injected clock.
func NewWithClock(cfg *config.Config, clock clockwork.Clock) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	reviewers := buildReviewerSet(cfg.Reviewers)

	ctx := context.Background()

	app := &App{
		config: cfg,
		logger: logger,
	}

	itemStore, envelopeStore, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}

	deliveryQueue, err := delivery.NewQueue(ctx, delivery.Config{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		Retention:   cfg.Delivery.Retention,
	}, envelopeStore, clock)
	if err != nil {
		app.closeDB()
		return nil, fmt.Errorf("init delivery queue: %w", err)
	}
	app.deliveryQueue = deliveryQueue

	renderer, err := notify.NewRenderer()
	if err != nil {
		app.closeDB()
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	if !cfg.Telegram.Enabled {
		slog.Warn("telegram sender is disabled: reviewer notifications will not be sent")
	}
	sender := telegram.NewSender(telegram.Config{
		Enabled:           cfg.Telegram.Enabled,
		Token:             cfg.Telegram.Token,
		RequestTimeout:    cfg.Telegram.RequestTimeout,
		MessagesPerSecond: cfg.Telegram.MessagesPerSecond,
	})
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		MaxAttempts:       cfg.Telegram.Retry.MaxAttempts,
		InitialBackoff:    cfg.Telegram.Retry.InitialBackoff,
		BackoffMultiplier: cfg.Telegram.Retry.BackoffMultiplier,
		MaxBackoff:        cfg.Telegram.Retry.MaxBackoff,
	}, sender)
	notifier := notify.NewNotifier(reviewers, renderer, dispatcher, notify.NewViewRegistry(), clock)

	engine, err := queue.NewEngine(ctx, queue.Config{
		DefaultTimeout: cfg.Queue.DefaultTimeout,
		EditLockTTL:    cfg.Queue.EditLockTTL,
	}, itemStore, reviewers, deliveryQueue, notifier, clock)
	if err != nil {
		app.closeDB()
		return nil, fmt.Errorf("init queue engine: %w", err)
	}
	app.engine = engine

	app.scheduler = scheduler.NewWorker(scheduler.Config{
		TickInterval:     cfg.Scheduler.TickInterval,
		ReminderInterval: cfg.Scheduler.ReminderInterval,
		MaxReminders:     cfg.Scheduler.MaxReminders,
		SweepInterval:    cfg.Scheduler.SweepInterval,
	}, engine, notifier, deliveryQueue, clock)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	app.metricsCancel = metricsCancel
	go app.collectStats(metricsCtx)
	if app.db != nil {
		go app.collectDBMetrics(metricsCtx)
	}

	authenticator := auth.NewAuthenticator(auth.Config{
		SecretKey:     cfg.JWT.SecretKey,
		TokenDuration: cfg.JWT.TokenDuration,
	}, reviewers, clock)

	router := app.setupRouter(authenticator, auth.NewService(reviewers, authenticator))

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers and the background scheduler.
func (a *App) Run() error {
	a.scheduler.Start(context.Background())

	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"storage_backend", a.config.Storage.Backend,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()
	a.scheduler.Stop()
	a.engine.Stop()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.closeDB()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Engine returns the queue engine. Used in tests.
func (a *App) Engine() *queue.Engine {
	return a.engine
}

// Scheduler returns the background worker. Used in tests.
func (a *App) Scheduler() *scheduler.Worker {
	return a.scheduler
}

func (a *App) setupStorage(ctx context.Context) (queue.Store, delivery.Store, error) {
	switch a.config.Storage.Backend {
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, a.config.Storage.Database.ConnectTimeout)
		defer cancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             a.config.Storage.Database.URL,
			MaxOpenConns:    a.config.Storage.Database.MaxOpenConns,
			MaxIdleConns:    a.config.Storage.Database.MaxIdleConns,
			ConnMaxLifetime: a.config.Storage.Database.ConnMaxLifetime,
			ConnectAttempts: a.config.Storage.Database.ConnectAttempts,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		a.db = db

		if err := storagepostgres.Migrate(a.config.Storage.Database.URL); err != nil {
			db.Close()
			a.db = nil
			return nil, nil, err
		}

		return storagepostgres.NewItemStore(db), storagepostgres.NewEnvelopeStore(db), nil

	default:
		itemStore, err := filestore.NewItemStore(
			a.config.Storage.File.Dir+"/items.json",
			a.config.Storage.File.BackupGenerations,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("init item store: %w", err)
		}

		envelopeStore, err := filestore.NewEnvelopeStore(
			a.config.Storage.File.Dir+"/envelopes.json",
			a.config.Storage.File.BackupGenerations,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("init envelope store: %w", err)
		}

		return itemStore, envelopeStore, nil
	}
}

func (a *App) setupRouter(validator httputil.TokenValidator, authService *auth.Service) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(a.config.Server.CORSAllowedOrigins) > 0 {
		r.Use(httputil.CORSMiddleware(a.config.Server.CORSAllowedOrigins))
	}

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	queueHandler := queue.NewHandler(a.engine)
	deliveryHandler := delivery.NewHandler(a.deliveryQueue)
	authHandler := auth.NewHandler(authService)

	r.Route("/api/v1", func(r chi.Router) {
		authHandler.RegisterRoutes(r)

		// Machine clients: the answer pipeline and the delivery consumer.
		r.Group(func(r chi.Router) {
			r.Use(httputil.ServiceTokenMiddleware(a.config.Server.ServiceToken))
			queueHandler.RegisterPipelineRoutes(r)
			deliveryHandler.RegisterRoutes(r)
		})

		// Human reviewers.
		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(validator))
			queueHandler.RegisterReviewerRoutes(r)
		})
	})

	return r
}

func (a *App) collectStats(ctx context.Context) {
	queue.RecordStats(a.engine.GetStats())
	delivery.RecordStats(a.deliveryQueue.GetStats())

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			queue.RecordStats(a.engine.GetStats())
			delivery.RecordStats(a.deliveryQueue.GetStats())
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) closeDB() {
	if a.db != nil {
		a.db.Close()
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		httputil.Text(w, http.StatusOK, "OK")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func buildReviewerSet(entries []config.ReviewerEntry) *domain.ReviewerSet {
	reviewers := make([]domain.Reviewer, 0, len(entries))
	for _, e := range entries {
		reviewers = append(reviewers, domain.Reviewer{
			ID:            e.ID,
			Name:          e.Name,
			ChatID:        e.ChatID,
			AccessKeyHash: e.AccessKeyHash,
		})
	}
	return domain.NewReviewerSet(reviewers)
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
