// Package report holds the sinks order statuses are projected into.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/orrn/printq/internal/core"
)

const (
	SheetName  = "Orders"
	timeLayout = "2006-01-02 15:04:05"
)

var header = []string{"Order ID", "Status", "Printer", "Updated"}

var statusFill = map[core.DisplayStatus]string{
	core.StatusQueued:   "#FFF2CC",
	core.StatusPrinting: "#DDEBF7",
	core.StatusPrinted:  "#E2EFDA",
}

// Workbook keeps one row per order in an xlsx file, rewriting the file on
// every update.
type Workbook struct {
	path   string
	mu     sync.Mutex
	file   *excelize.File
	rows   map[string]int
	next   int
	styles map[core.DisplayStatus]int
	now    func() time.Time
}

// OpenWorkbook loads the workbook at path, creating it if it does not exist.
func OpenWorkbook(path string) (*Workbook, error) {
	w := &Workbook{
		path:   path,
		rows:   make(map[string]int),
		styles: make(map[core.DisplayStatus]int),
		now:    time.Now,
	}

	f, err := excelize.OpenFile(path)
	switch {
	case err == nil:
		w.file = f
		if err := w.index(); err != nil {
			f.Close()
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
		if err := w.create(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}

	for status, color := range statusFill {
		id, err := w.file.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			w.file.Close()
			return nil, fmt.Errorf("failed to create style: %w", err)
		}
		w.styles[status] = id
	}

	return w, nil
}

func (w *Workbook) create() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		f.Close()
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			f.Close()
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	_ = f.SetColWidth(SheetName, "A", "A", 18)
	_ = f.SetColWidth(SheetName, "C", "D", 20)

	w.file = f
	w.next = 2
	return nil
}

func (w *Workbook) index() error {
	rows, err := w.file.GetRows(SheetName)
	if err != nil {
		return fmt.Errorf("failed to read workbook: %w", err)
	}

	w.next = len(rows) + 1
	if w.next < 2 {
		w.next = 2
	}
	for i, row := range rows {
		if i == 0 || len(row) == 0 || row[0] == "" {
			continue
		}
		w.rows[row[0]] = i + 1
	}
	return nil
}

// RecordStatus overwrites the order's row, appending one if the order is new.
func (w *Workbook) RecordStatus(ctx context.Context, orderID string, status core.DisplayStatus, printerName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	row, ok := w.rows[orderID]
	if !ok {
		row = w.next
		w.next++
		w.rows[orderID] = row
	}

	values := []any{orderID, string(status), printerName, w.now().Format(timeLayout)}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(SheetName, cell, v); err != nil {
			return fmt.Errorf("failed to write cell %s: %w", cell, err)
		}
	}

	if style, ok := w.styles[status]; ok {
		first, _ := excelize.CoordinatesToCellName(1, row)
		last, _ := excelize.CoordinatesToCellName(len(header), row)
		if err := w.file.SetCellStyle(SheetName, first, last, style); err != nil {
			return fmt.Errorf("failed to style row: %w", err)
		}
	}

	if err := w.file.SaveAs(w.path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
