package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/logging"
)

const archiveSchema = `
	CREATE TABLE IF NOT EXISTS completed_jobs (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		article TEXT NOT NULL,
		file_path TEXT NOT NULL,
		priority INTEGER NOT NULL,
		printed_on TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		assigned_at DATETIME,
		completed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS archive_metadata (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		archived_at DATETIME,
		job_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_archive_completed_at ON completed_jobs(completed_at);
	CREATE INDEX IF NOT EXISTS idx_archive_order ON completed_jobs(order_id);
`

const insertArchived = `
	INSERT OR REPLACE INTO completed_jobs
		(id, order_id, article, file_path, priority, printed_on, attempts, created_at, assigned_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type Archiver struct {
	store       core.JobStore
	archivePath string
	archiveDays int
	logger      *slog.Logger
	mu          sync.Mutex
	now         func() time.Time
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	JobCount  int       `json:"job_count"`
	DateRange string    `json:"date_range"`
}

type ArchiveConfig struct {
	ArchivePath string
	ArchiveDays int
}

func NewArchiver(store core.JobStore, config ArchiveConfig, logger *slog.Logger) (*Archiver, error) {
	if config.ArchivePath == "" {
		config.ArchivePath = "./data/archives"
	}
	if config.ArchiveDays <= 0 {
		config.ArchiveDays = 30
	}

	if err := os.MkdirAll(config.ArchivePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		store:       store,
		archivePath: config.ArchivePath,
		archiveDays: config.ArchiveDays,
		logger:      logging.Component(logger, "archive"),
		now:         time.Now,
	}, nil
}

// Run archives on every tick of interval until ctx is done.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.RunArchive(ctx); err != nil {
				a.logger.Error("archive run failed", "error", err)
			} else if n > 0 {
				a.logger.Info("archived completed jobs", "count", n)
			}
		}
	}
}

// RunArchive moves completed jobs older than the retention window into this
// month's archive file and removes them from the store.
func (a *Archiver) RunArchive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	cutoff := now.AddDate(0, 0, -a.archiveDays)

	completed, err := a.store.ListCompleted(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list completed jobs: %w", err)
	}

	var jobs []core.Job
	for _, j := range completed {
		if j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			jobs = append(jobs, j)
		}
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	archiveDBPath := filepath.Join(a.archivePath, fmt.Sprintf("archive_%s.db", now.Format("2006_01")))
	if err := a.writeArchive(ctx, archiveDBPath, jobs, now); err != nil {
		return 0, err
	}

	removed := 0
	for _, j := range jobs {
		ok, err := a.store.Remove(ctx, j.ID)
		if err != nil {
			return removed, fmt.Errorf("failed to remove archived job %s: %w", j.ID, err)
		}
		if ok {
			removed++
		}
	}

	return removed, nil
}

func (a *Archiver) writeArchive(ctx context.Context, path string, jobs []core.Job, now time.Time) error {
	archiveDB, err := openArchiveDB(path)
	if err != nil {
		return fmt.Errorf("failed to create archive database: %w", err)
	}
	defer archiveDB.Close()

	tx, err := archiveDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	for _, j := range jobs {
		var assignedAt any
		if j.AssignedAt != nil {
			assignedAt = *j.AssignedAt
		}
		_, err := tx.ExecContext(ctx, insertArchived,
			j.ID, j.OrderID, j.Article, j.FilePath, j.Priority, j.PrintedOn,
			j.Attempts, j.CreatedAt, assignedAt, *j.CompletedAt)
		if err != nil {
			return fmt.Errorf("failed to insert job to archive: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO archive_metadata (id, archived_at, job_count)
		VALUES (1, ?, (SELECT COUNT(*) FROM completed_jobs))
	`, now); err != nil {
		return fmt.Errorf("failed to update archive metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return nil
}

func openArchiveDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (a *Archiver) ListArchives() ([]*ArchiveFile, error) {
	files, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archives []*ArchiveFile
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), "archive_") || !strings.HasSuffix(file.Name(), ".db") {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		archives = append(archives, &ArchiveFile{
			Filename:  file.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			JobCount:  a.jobCount(filepath.Join(a.archivePath, file.Name())),
			DateRange: strings.TrimSuffix(strings.TrimPrefix(file.Name(), "archive_"), ".db"),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Filename < archives[j].Filename
	})
	return archives, nil
}

func (a *Archiver) jobCount(path string) int {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return 0
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM completed_jobs`).Scan(&count); err != nil {
		return 0
	}
	return count
}
