// Package driver talks to physical printers, either through the local CUPS
// tools or over a raw TCP socket.
package driver

import (
	"fmt"
	"time"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
)

const defaultIOTimeout = 10 * time.Second

// AddressFunc resolves a pool printer name to its network address.
type AddressFunc func(printerName string) (string, error)

func New(cfg *config.PrintersConfig, resolve AddressFunc) (core.PrintDriver, error) {
	switch cfg.Driver {
	case "", "cups":
		return NewCUPS(cfg.LPPath, cfg.LPStatPath), nil
	case "raw":
		if resolve == nil {
			return nil, fmt.Errorf("raw driver needs an address resolver")
		}
		return NewRaw(resolve, cfg.RawPort, cfg.StatusTimeout), nil
	default:
		return nil, &core.ConfigError{Component: "driver", Err: fmt.Errorf("unknown printer driver %q", cfg.Driver)}
	}
}
