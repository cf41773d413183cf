package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/orrn/printq/internal/core"
)

// PoolStore persists printer pool membership in the pool_printers table.
type PoolStore struct {
	db *sql.DB
}

func NewPoolStore(d *DB) *PoolStore {
	return &PoolStore{db: d.conn}
}

func (s *PoolStore) LoadPool(ctx context.Context) ([]core.Printer, error) {
	rows, err := s.db.QueryContext(ctx, ListPoolPrinters)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool printers: %w", err)
	}
	defer rows.Close()

	var printers []core.Printer
	for rows.Next() {
		var (
			p        core.Printer
			metaJSON string
		)
		if err := rows.Scan(&p.Name, &metaJSON, &p.RegisteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan printer: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", p.Name, err)
		}
		p.Status = core.PrinterUnknown
		printers = append(printers, p)
	}
	return printers, rows.Err()
}

func (s *PoolStore) SavePrinter(ctx context.Context, p core.Printer) error {
	meta := p.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, UpsertPoolPrinter, p.Name, string(metaJSON), p.RegisteredAt); err != nil {
		return fmt.Errorf("failed to save printer: %w", err)
	}
	return nil
}

func (s *PoolStore) DeletePrinter(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, DeletePoolPrinter, name); err != nil {
		return fmt.Errorf("failed to delete printer: %w", err)
	}
	return nil
}
