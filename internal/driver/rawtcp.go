package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/orrn/printq/internal/core"
)

const (
	statusCommand        = "\x1b!?"
	statusResponseLength = 4
)

var ErrInvalidStatus = errors.New("invalid status response")

var printerStateMap = map[byte]string{
	'@': "normal",
	'F': "feeding",
	'P': "paused",
	'E': "error",
	'H': "head_open",
	'S': "standby",
	'L': "label_waiting",
	'I': "idle",
}

var errorMap = map[byte]string{
	'@': "none",
	'A': "head_overheat",
	'B': "motor_overheat",
	'C': "head_and_motor_overheat",
	'D': "head_error",
	'E': "cutter_error",
	'F': "rtc_error",
}

var mediaErrorMap = map[byte]string{
	'@': "none",
	'A': "paper_empty",
	'B': "ribbon_empty",
	'C': "paper_and_ribbon_empty",
	'D': "takeup_reel_full",
	'`': "head_open",
}

// RawStatus is the decoded 4-byte reply to the status command.
type RawStatus struct {
	State      string
	Error      string
	MediaError string
	Raw        [4]byte
}

func ParseRawStatus(b []byte) (RawStatus, error) {
	if len(b) < statusResponseLength {
		return RawStatus{}, ErrInvalidStatus
	}

	s := RawStatus{Raw: [4]byte{b[0], b[1], b[2], b[3]}}
	s.State = lookup(printerStateMap, b[0])
	s.Error = lookup(errorMap, b[2])
	s.MediaError = lookup(mediaErrorMap, b[3])
	return s, nil
}

func lookup(m map[byte]string, b byte) string {
	if v, ok := m[b]; ok {
		return v
	}
	return "unknown"
}

// Status folds the decoded reply into ready, busy or unknown.
func (s RawStatus) Status() core.PrinterStatus {
	if s.Error != "none" || s.MediaError != "none" {
		return core.PrinterUnknown
	}

	switch s.State {
	case "normal", "standby", "idle":
		return core.PrinterReady
	case "feeding", "label_waiting":
		return core.PrinterBusy
	default:
		return core.PrinterUnknown
	}
}

// Raw drives network label printers on a raw socket (port 9100 by default).
type Raw struct {
	resolve     AddressFunc
	defaultPort int
	timeout     time.Duration
}

func NewRaw(resolve AddressFunc, port int, timeout time.Duration) *Raw {
	if port <= 0 {
		port = 9100
	}
	if timeout <= 0 {
		timeout = defaultIOTimeout
	}
	return &Raw{resolve: resolve, defaultPort: port, timeout: timeout}
}

func (r *Raw) Submit(ctx context.Context, filePath, printerName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return &core.DriverError{Op: "submit", Printer: printerName, Err: err}
	}
	defer f.Close()

	conn, err := r.dial(ctx, printerName)
	if err != nil {
		return &core.DriverError{Op: "submit", Printer: printerName, Err: err}
	}
	defer conn.Close()

	if _, err := io.Copy(conn, f); err != nil {
		return &core.DriverError{Op: "submit", Printer: printerName, Err: err}
	}
	return nil
}

func (r *Raw) PrinterStatus(ctx context.Context, printerName string) (core.PrinterStatus, error) {
	s, err := r.query(ctx, printerName)
	if err != nil {
		return core.PrinterUnknown, &core.DriverError{Op: "status", Printer: printerName, Err: err}
	}
	return s.Status(), nil
}

// ActiveJobs reports one job while the printer is feeding or waiting for
// label pickup. The protocol has no queue depth.
func (r *Raw) ActiveJobs(ctx context.Context, printerName string) (int, error) {
	s, err := r.query(ctx, printerName)
	if err != nil {
		return 0, &core.DriverError{Op: "active_jobs", Printer: printerName, Err: err}
	}
	if s.Status() == core.PrinterBusy {
		return 1, nil
	}
	return 0, nil
}

func (r *Raw) query(ctx context.Context, printerName string) (RawStatus, error) {
	conn, err := r.dial(ctx, printerName)
	if err != nil {
		return RawStatus{}, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(statusCommand)); err != nil {
		return RawStatus{}, fmt.Errorf("failed to send status command: %w", err)
	}

	response := make([]byte, statusResponseLength)
	if _, err := io.ReadFull(conn, response); err != nil {
		return RawStatus{}, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}

	return ParseRawStatus(response)
}

func (r *Raw) dial(ctx context.Context, printerName string) (net.Conn, error) {
	addr, err := r.resolve(printerName)
	if err != nil {
		return nil, err
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(r.defaultPort))
	}

	d := net.Dialer{Timeout: r.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	deadline := time.Now().Add(r.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	return conn, nil
}
