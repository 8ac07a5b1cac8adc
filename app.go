package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"userdir/internal/config"
	"userdir/internal/handlers"
	"userdir/internal/loader"
	"userdir/internal/middleware"
	"userdir/internal/repositories"
	"userdir/internal/services"
	"userdir/pkg/rabbitmq"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// App wires the user directory together.
type App struct {
	Fiber   *fiber.App
	Repo    repositories.UserRepository
	Service *services.DirectoryService
	Loader  *loader.Loader

	cfg     config.Config
	events  *rabbitmq.Client // nil when events are disabled
	logger  *slog.Logger
	closers []func() error
}

// NewApp builds the application from cfg, fetching the initial users from the configured
// endpoint. The access log goes to stdout next to the application log.
func NewApp(cfg config.Config, logger *slog.Logger) (*App, error) {
	return newApp(cfg, logger, os.Stdout, loader.NewClient(cfg.Loader.Endpoint))
}

func newApp(cfg config.Config, logger *slog.Logger, accessLog io.Writer, fetcher loader.Fetcher) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	repo, closeRepo, err := openRepository(cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	a.Repo = repo
	if closeRepo != nil {
		a.closers = append(a.closers, closeRepo)
	}

	var opts []services.Option
	if cfg.RabbitMQURL != "" {
		mq, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize RabbitMQ client: %w", err)
		}
		a.events = mq
		a.closers = append(a.closers, mq.Close)
		opts = append(opts, services.WithPublisher(mq))
	} else {
		logger.Info("RABBITMQ_URL not set, user events disabled")
	}

	a.Service = services.NewDirectoryService(repo, logger, opts...)
	a.Loader = loader.New(fetcher, repo, logger, loader.WithOnSettle(func(res loader.Result) {
		if res.Err != nil {
			logger.Warn("directory starts empty", "error", res.Err)
		}
	}))

	a.Fiber = fiber.New(fiber.Config{
		AppName:               "userdir",
		DisableStartupMessage: true,
	})
	a.Fiber.Use(middleware.AccessLog(accessLog, cfg.Logging.Format == config.FormatJSON))
	a.Fiber.Use(middleware.LoadingState(repo))

	apiV1 := a.Fiber.Group("/api/v1")
	handlers.NewUserHandler(a.Service, logger).RegisterRoutes(apiV1)

	a.Fiber.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  "healthy",
			"loading": repo.Loading(),
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	return a, nil
}

func openRepository(cfg config.StoreConfig, logger *slog.Logger) (repositories.UserRepository, func() error, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := gorm.Open(sqlite.Open(cfg.SQLiteDSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}

		repo := repositories.NewGORMUserRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		logger.Info("using sqlite user store", "dsn", cfg.SQLiteDSN)
		return repo, sqlDB.Close, nil
	case config.DriverMemory, "":
		return repositories.NewMemoryUserRepository(), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnsupportedDriver, cfg.Driver)
	}
}

// Run starts the loader, the HTTP server and the audit consumer, and blocks until ctx
// is cancelled or one of them fails. The server is then shut down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	lctx, cancel := a.loaderContext(ctx)
	loaded := a.Loader.Start(lctx)
	g.Go(func() error {
		defer cancel()
		<-loaded
		return nil
	})

	g.Go(func() error {
		a.logger.Info("starting server", "addr", a.cfg.AppPort)
		if err := a.Fiber.Listen(a.cfg.AppPort); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if a.events != nil {
		g.Go(func() error {
			return a.events.ConsumeUserEvents(ctx, a.auditUserEvent)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down server")
		if err := a.Fiber.ShutdownWithTimeout(a.cfg.ShutdownTimeout); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// loaderContext bounds the initial fetch by LOADER_TIMEOUT when one is set.
func (a *App) loaderContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Loader.Timeout > 0 {
		return context.WithTimeout(ctx, a.cfg.Loader.Timeout)
	}
	return context.WithCancel(ctx)
}

func (a *App) auditUserEvent(event rabbitmq.UserEvent) error {
	a.logger.Info("user event",
		"event_id", event.ID,
		"type", event.Type,
		"user_id", event.UserID.String(),
		"occurred_at", event.OccurredAt,
	)
	return nil
}

// Close releases the store and the RabbitMQ connection.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
