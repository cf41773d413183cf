package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/logging"
	"github.com/orrn/printq/internal/metrics"
)

const DefaultFileName = "ПЕЧАТЬ.png"

// Result summarizes one ingest pass.
type Result struct {
	Fetched  int      `json:"fetched"`
	Enqueued []string `json:"enqueued"`
	Known    int      `json:"known"`
	Skipped  int      `json:"skipped"`
}

// Ingestor enqueues a print job for every new order whose label file exists
// under files_root/<article>/<file_name>.
type Ingestor struct {
	source    core.OrderSource
	store     core.JobStore
	projector *core.Projector
	filesRoot string
	fileName  string
	priority  int
	logger    *slog.Logger
}

func NewIngestor(source core.OrderSource, store core.JobStore, projector *core.Projector, cfg config.OrdersConfig, logger *slog.Logger) *Ingestor {
	fileName := cfg.FileName
	if fileName == "" {
		fileName = DefaultFileName
	}

	return &Ingestor{
		source:    source,
		store:     store,
		projector: projector,
		filesRoot: cfg.FilesRoot,
		fileName:  fileName,
		priority:  cfg.DefaultPriority,
		logger:    logging.Component(logger, "ingest"),
	}
}

// FilePath returns where the label for article is expected.
func (in *Ingestor) FilePath(article string) string {
	return filepath.Join(in.filesRoot, article, in.fileName)
}

func (in *Ingestor) Ingest(ctx context.Context) (Result, error) {
	var res Result
	if in.source == nil {
		return res, &core.ConfigError{Component: "ingest", Err: errors.New("no order source configured")}
	}

	orders, err := in.source.FetchNewOrders(ctx)
	if err != nil {
		return res, err
	}
	res.Fetched = len(orders)

	known, err := in.knownOrders(ctx)
	if err != nil {
		return res, err
	}

	for _, o := range orders {
		if known[o.ID] {
			res.Known++
			continue
		}
		if o.Article == "" {
			in.logger.Warn("order has no article", "order_id", o.ID)
			res.Skipped++
			continue
		}

		path := in.FilePath(o.Article)
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			in.logger.Warn("label file not found", "order_id", o.ID, "article", o.Article, "path", path)
			res.Skipped++
			continue
		}

		priority := in.priority
		if o.Priority != nil {
			priority = *o.Priority
		}

		job := core.Job{
			OrderID:  o.ID,
			Article:  o.Article,
			FilePath: path,
			Priority: priority,
		}
		id, err := in.store.Enqueue(ctx, job)
		if err != nil {
			return res, fmt.Errorf("failed to enqueue order %s: %w", o.ID, err)
		}
		known[o.ID] = true
		metrics.IncJobsEnqueued()

		if in.projector != nil {
			in.projector.OnTransition(o.ID, core.StatusQueued, "")
		}
		in.logger.Info("order queued", "order_id", o.ID, "job_id", id, "article", o.Article, "priority", priority)
		res.Enqueued = append(res.Enqueued, id)
	}

	return res, nil
}

// Run ingests on every tick until ctx is done.
func (in *Ingestor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := in.Ingest(ctx)
			if err != nil {
				in.logger.Error("ingest failed", "error", err)
				continue
			}
			if len(res.Enqueued) > 0 {
				in.logger.Info("ingest finished", "fetched", res.Fetched, "enqueued", len(res.Enqueued), "skipped", res.Skipped)
			}
		}
	}
}

func (in *Ingestor) knownOrders(ctx context.Context) (map[string]bool, error) {
	known := make(map[string]bool)

	active, err := in.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	completed, err := in.store.ListCompleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed jobs: %w", err)
	}

	for _, j := range active {
		known[j.OrderID] = true
	}
	for _, j := range completed {
		known[j.OrderID] = true
	}
	return known, nil
}
