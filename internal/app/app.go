// Package app assembles the dispatcher service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/api"
	"github.com/orrn/printq/internal/archive"
	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/db"
	"github.com/orrn/printq/internal/driver"
	"github.com/orrn/printq/internal/logging"
	"github.com/orrn/printq/internal/orders"
	"github.com/orrn/printq/internal/redisstore"
	"github.com/orrn/printq/internal/report"
	"github.com/orrn/printq/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

// Stores bundles the job store with pool persistence and their shared
// resource.
type Stores struct {
	Jobs  core.JobStore
	Pool  core.PoolStore
	close func() error
}

func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func OpenStores(ctx context.Context, cfg config.StoreConfig) (*Stores, error) {
	switch cfg.Driver {
	case "memory":
		return &Stores{Jobs: core.NewMemoryJobStore()}, nil
	case "sqlite":
		d, err := db.Open(db.Config{Path: cfg.Path})
		if err != nil {
			return nil, err
		}
		return &Stores{Jobs: db.NewJobStore(d), Pool: db.NewPoolStore(d), close: d.Close}, nil
	case "redis":
		s, err := redisstore.Open(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return &Stores{Jobs: s, Pool: s, close: s.Close}, nil
	default:
		return nil, &core.ConfigError{Component: "store", Err: fmt.Errorf("unknown store driver %q", cfg.Driver)}
	}
}

type App struct {
	Config     *config.Config
	Stores     *Stores
	Registry   *core.Registry
	Driver     core.PrintDriver
	Projector  *core.Projector
	Dispatcher *core.Dispatcher
	Ingestor   *orders.Ingestor
	Archiver   *archive.Archiver

	root     *slog.Logger
	logger   *slog.Logger
	webhooks *webhook.WebhookSender
	workbook *report.Workbook
	closers  []func() error
	once     sync.Once
}

// New opens the store and wires every component. Nothing is started.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, root: logger, logger: logging.Component(logger, "app")}

	stores, err := OpenStores(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.Stores = stores
	a.closers = append(a.closers, stores.Close)

	var registry *core.Registry
	drv, err := driver.New(&cfg.Printers, func(name string) (string, error) {
		return registry.Address(name)
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	registry = core.NewRegistry(drv, stores.Pool, &cfg.Printers, logger)
	if err := registry.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.Driver = drv
	a.Registry = registry

	sink, err := a.reportSink(logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Projector = core.NewProjector(sink, cfg.Report.QueueSize, logger)
	a.closers = append(a.closers, func() error {
		a.Projector.Close()
		return nil
	})

	a.Dispatcher = core.NewDispatcher(stores.Jobs, registry, drv, a.Projector, &cfg.Dispatcher, logger)

	if cfg.Orders.Source == "wildberries" {
		source, err := orders.NewWildberries(cfg.Orders)
		if err != nil {
			a.logger.Warn("order intake disabled", "error", err)
		} else {
			a.Ingestor = orders.NewIngestor(source, stores.Jobs, a.Projector, cfg.Orders, logger)
		}
	}

	a.Archiver, err = archive.NewArchiver(stores.Jobs, archive.ArchiveConfig{
		ArchivePath: cfg.Archive.Path,
		ArchiveDays: cfg.Archive.Days,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) reportSink(logger *slog.Logger) (core.ReportSink, error) {
	var sinks report.Multi

	if a.Config.Report.WorkbookPath != "" {
		wb, err := report.OpenWorkbook(a.Config.Report.WorkbookPath)
		if err != nil {
			return nil, err
		}
		a.workbook = wb
		a.closers = append(a.closers, wb.Close)
		sinks = append(sinks, wb)
	}

	if len(a.Config.Report.Webhooks) > 0 {
		a.webhooks = webhook.NewWebhookSender(webhook.ConfigFrom(a.Config.Report), logger)
		sinks = append(sinks, a.webhooks)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// Router builds the HTTP handler. Background work started through it runs
// on ctx.
func (a *App) Router(ctx context.Context) (*gin.Engine, error) {
	return api.NewRouter(ctx, a.Config, api.Deps{
		Store:           a.Stores.Jobs,
		Registry:        a.Registry,
		Dispatcher:      a.Dispatcher,
		Projector:       a.Projector,
		Ingestor:        a.Ingestor,
		Archiver:        a.Archiver,
		DefaultPriority: a.Config.Orders.DefaultPriority,
	}, a.root)
}

// Run starts the dispatcher, the background loops and the HTTP server, and
// blocks until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.webhooks != nil {
		a.webhooks.Start()
	}
	defer a.stopReporting()

	if err := a.Dispatcher.Start(ctx); err != nil {
		return err
	}
	defer a.Dispatcher.Stop()

	var wg sync.WaitGroup
	if a.Ingestor != nil && a.Config.Orders.PollInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Ingestor.Run(ctx, a.Config.Orders.PollInterval)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Archiver.Run(ctx, a.Config.Archive.Interval)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	router, err := a.Router(ctx)
	if err != nil {
		return err
	}
	srv := api.NewServer(a.Config.Server, router, a.root)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	return nil
}

// stopReporting flushes the projector into the sinks and then stops the
// webhook workers, so the last transitions of a shutdown are delivered.
func (a *App) stopReporting() {
	a.Projector.Close()
	if a.webhooks != nil {
		a.webhooks.Stop()
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	a.once.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
