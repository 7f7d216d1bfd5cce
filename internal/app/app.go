// Package app wires the lesson stack from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/felixgeelhaar/checkpoint/internal/cache"
	"github.com/felixgeelhaar/checkpoint/internal/catalog"
	"github.com/felixgeelhaar/checkpoint/internal/config"
	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/gateway"
	"github.com/felixgeelhaar/checkpoint/internal/lesson"
	"github.com/felixgeelhaar/checkpoint/internal/queue"
	"github.com/felixgeelhaar/checkpoint/internal/runtime"
	"github.com/felixgeelhaar/checkpoint/internal/storage/postgres"
	"github.com/felixgeelhaar/checkpoint/internal/storage/sqlite"
)

// Store is a lesson store that can also accept imported bundles
type Store interface {
	lesson.Source
	Import(ctx context.Context, b lesson.Bundle) error
	DeleteLesson(ctx context.Context, id string) error
}

// ProgressStore records completions and answers progress queries
type ProgressStore interface {
	lesson.ProgressStore
	Completions(ctx context.Context, lessonID string) ([]domain.Completion, error)
	Summary(ctx context.Context) (*domain.ProgressSummary, error)
	Reset(ctx context.Context, lessonID string) error
}

// App holds all application dependencies
type App struct {
	Config   *config.LocalConfig
	Logger   *slog.Logger
	Store    Store
	Progress ProgressStore
	Lessons  *lesson.Service

	// Set only when the backing services are configured
	Events *sqlite.AnalyticsStore
	Tally  *queue.Tally

	cache    *cache.Source
	consumer *queue.Consumer
	closers  []func() error
}

// Options tweaks how the app is assembled
type Options struct {
	Logger *slog.Logger

	// Gateway replaces the HTTP grading client, mostly for tests and demos
	Gateway gateway.Gateway

	// Offline skips the queue so CLI commands never block on a broker
	Offline bool
}

// New creates a new application instance with all dependencies wired
func New(ctx context.Context, cfg *config.LocalConfig, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", domain.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var source lesson.Source = a.Store
	if cfg.Cache.RedisURL != "" {
		rdb, err := cache.NewClient(ctx, cfg.Cache.RedisURL, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		a.cache = cache.NewSource(a.Store, rdb, time.Duration(cfg.Cache.TTLSeconds)*time.Second, logger)
		source = a.cache
	}

	gw := opts.Gateway
	if gw == nil {
		gw = a.newGateway()
	}

	a.Lessons = lesson.NewService(source, gw, RuntimeOptions(cfg, logger), logger)
	a.Lessons.SetProgressStore(a.Progress)

	if a.Events != nil {
		a.Lessons.Events().SubscribeAll(a.Events.Handler(func(err error) {
			logger.Warn("failed to record event", "error", err)
		}))
	}

	if !opts.Offline && cfg.Queue.RabbitMQURL != "" {
		if err := a.startQueue(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

// RuntimeOptions maps the runtime config section onto exercise options
func RuntimeOptions(cfg *config.LocalConfig, logger *slog.Logger) runtime.Options {
	opts := runtime.DefaultOptions()
	opts.Mode = runtime.ParseMode(cfg.Runtime.Mode)
	opts.AutoCloseSeconds = cfg.Runtime.AutoCloseSeconds
	if cfg.Runtime.CelebrationMS > 0 {
		opts.CelebrationDuration = time.Duration(cfg.Runtime.CelebrationMS) * time.Millisecond
	}
	opts.Logger = logger
	return opts
}

func (a *App) openStorage(ctx context.Context) error {
	switch a.Config.Storage.Driver {
	case "postgres":
		if err := postgres.Migrate(a.Config.Storage.DatabaseURL, a.Logger); err != nil {
			return err
		}
		pool, err := postgres.NewPool(ctx, a.Config.Storage.DatabaseURL, 0, a.Logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		a.Store = postgres.NewLessonStore(pool)
		a.Progress = postgres.NewProgressStore(pool)
	default:
		db, err := sqlite.Open(a.Config.Storage.Path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		db.SetLogger(a.Logger)
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.Store = sqlite.NewLessonStore(db)
		a.Progress = sqlite.NewProgressStore(db)
		a.Events = sqlite.NewAnalyticsStore(db)
	}
	a.Logger.Info("storage ready", "driver", a.Config.Storage.Driver)
	return nil
}

func (a *App) newGateway() gateway.Gateway {
	gcfg := a.Config.Gateway
	base := gateway.NewHTTPGateway(gateway.HTTPConfig{
		BaseURL: gcfg.URL,
		APIKey:  gcfg.APIKey,
		Timeout: time.Duration(gcfg.TimeoutSeconds) * time.Second,
	})

	r := gcfg.Resilience
	rcfg := gateway.DefaultResilientConfig()
	rcfg.EnableCircuitBreaker = r.CircuitBreaker
	rcfg.EnableRetry = r.Retry
	rcfg.EnableBulkhead = r.MaxConcurrent > 0
	rcfg.EnableRateLimit = r.RatePerSecond > 0
	if r.MaxAttempts > 0 {
		rcfg.MaxAttempts = r.MaxAttempts
	}
	rcfg.MaxConcurrent = r.MaxConcurrent
	rcfg.RatePerSecond = r.RatePerSecond
	rcfg.Logger = a.Logger

	rg := gateway.NewResilientGateway(base, rcfg)
	a.closers = append(a.closers, rg.Close)
	return rg
}

func (a *App) startQueue(ctx context.Context) error {
	conn, err := queue.NewConnection(a.Config.Queue.RabbitMQURL, a.Logger)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	a.closers = append(a.closers, conn.Close)
	a.Lessons.SetPublisher(queue.NewProducer(conn, a.Logger))

	if !a.Config.Queue.ConsumeCompletions {
		return nil
	}

	a.Tally = queue.NewTally()
	a.consumer = queue.NewConsumer(conn, a.Tally.Handle, queue.ConsumerConfig{Logger: a.Logger})
	if err := a.consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	return nil
}

// ImportLessons loads every lesson file under dir into the store and drops
// cached copies. A missing directory imports nothing.
func (a *App) ImportLessons(ctx context.Context, dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		a.Logger.Debug("lessons directory missing", "path", dir)
		return 0, nil
	}

	bundles, err := catalog.NewLoader(dir).LoadAll()
	if err != nil {
		return 0, err
	}
	for _, b := range bundles {
		if err := a.Store.Import(ctx, b); err != nil {
			return 0, fmt.Errorf("import %s: %w", b.Lesson.ID, err)
		}
		if a.cache != nil {
			if err := a.cache.Invalidate(ctx, b.Lesson.ID); err != nil {
				a.Logger.Warn("failed to invalidate cache", "lesson", b.Lesson.ID, "error", err)
			}
		}
	}

	a.Logger.Info("lessons imported", "path", dir, "count", len(bundles))
	return len(bundles), nil
}

// Close unmounts views and releases resources in reverse order of acquisition
func (a *App) Close() error {
	if a.Lessons != nil {
		a.Lessons.Close()
	}
	if a.consumer != nil {
		a.consumer.Stop()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
