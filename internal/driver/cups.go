package driver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/orrn/printq/internal/core"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CUPS submits files with lp and reads printer state with lpstat.
type CUPS struct {
	lp     string
	lpstat string
	run    Runner
}

func NewCUPS(lpPath, lpstatPath string) *CUPS {
	if lpPath == "" {
		lpPath = "lp"
	}
	if lpstatPath == "" {
		lpstatPath = "lpstat"
	}
	return &CUPS{lp: lpPath, lpstat: lpstatPath, run: execRunner}
}

// WithRunner replaces the command runner.
func (c *CUPS) WithRunner(run Runner) *CUPS {
	c.run = run
	return c
}

func (c *CUPS) Submit(ctx context.Context, filePath, printerName string) error {
	out, err := c.run(ctx, c.lp, "-d", printerName, filePath)
	if err != nil {
		return &core.DriverError{Op: "submit", Printer: printerName, Err: commandError(err, out)}
	}
	return nil
}

func (c *CUPS) PrinterStatus(ctx context.Context, printerName string) (core.PrinterStatus, error) {
	out, err := c.run(ctx, c.lpstat, "-p", printerName)
	if err != nil {
		return core.PrinterUnknown, &core.DriverError{Op: "status", Printer: printerName, Err: commandError(err, out)}
	}
	return ParseLpstatStatus(string(out)), nil
}

func (c *CUPS) ActiveJobs(ctx context.Context, printerName string) (int, error) {
	out, err := c.run(ctx, c.lpstat, "-o", printerName)
	if err != nil {
		return 0, &core.DriverError{Op: "active_jobs", Printer: printerName, Err: commandError(err, out)}
	}
	return countLines(out), nil
}

// ParseLpstatStatus maps `lpstat -p` output onto a printer status.
func ParseLpstatStatus(output string) core.PrinterStatus {
	s := strings.ToLower(output)

	switch {
	case strings.Contains(s, "now printing"),
		strings.Contains(s, "processing"),
		strings.Contains(s, "busy"):
		return core.PrinterBusy
	case strings.Contains(s, "disabled"):
		return core.PrinterUnknown
	case strings.Contains(s, "idle"),
		strings.Contains(s, "ready"),
		strings.Contains(s, "normal"):
		return core.PrinterReady
	default:
		return core.PrinterUnknown
	}
}

func countLines(out []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n
}

func commandError(err error, out []byte) error {
	msg := strings.TrimSpace(string(out))
	if msg == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, msg)
}
