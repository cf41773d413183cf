package report

import (
	"context"
	"errors"

	"github.com/orrn/printq/internal/core"
)

// Multi fans a status out to several sinks. Every sink is called even when
// an earlier one fails.
type Multi []core.ReportSink

func (m Multi) RecordStatus(ctx context.Context, orderID string, status core.DisplayStatus, printerName string) error {
	var errs []error
	for _, sink := range m {
		if err := sink.RecordStatus(ctx, orderID, status, printerName); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
