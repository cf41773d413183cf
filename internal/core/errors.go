package core

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound          = errors.New("job not found")
	ErrDuplicateJobID       = errors.New("duplicate job id")
	ErrPrinterNotFound      = errors.New("printer not found")
	ErrPrinterAlreadyExists = errors.New("printer already exists")
	ErrInvalidPrinterName   = errors.New("printer name is required")
	ErrNoPrinters           = errors.New("no printers in pool")
	ErrMissingCredentials   = errors.New("order source credentials missing")
	ErrFileNotFound         = errors.New("print file not found")
)

// DriverError is a transient failure talking to a printer. The job involved
// goes back to pending and is retried by a later cycle.
type DriverError struct {
	Op      string
	Printer string
	Err     error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver %s on %s: %v", e.Op, e.Printer, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// ConfigError marks a setup problem that makes a cycle skip rather than fail.
type ConfigError struct {
	Component string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func IsDriverError(err error) bool {
	var de *DriverError
	return errors.As(err, &de)
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
