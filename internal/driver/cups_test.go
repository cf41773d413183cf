package driver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/orrn/printq/internal/core"
)

func TestParseLpstatStatus(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   core.PrinterStatus
	}{
		{"idle", "printer Zebra is idle.  enabled since Mon 01 Jan 2024 10:00:00\n", core.PrinterReady},
		{"now printing", "printer Zebra now printing Zebra-42.  enabled since Mon 01 Jan 2024\n", core.PrinterBusy},
		{"processing", "printer Zebra is processing\n", core.PrinterBusy},
		{"busy", "Printer is BUSY\n", core.PrinterBusy},
		{"ready", "printer Laser ready\n", core.PrinterReady},
		{"disabled", "printer Zebra disabled since Mon 01 Jan 2024 -\n\treason unknown\n", core.PrinterUnknown},
		{"empty", "", core.PrinterUnknown},
		{"garbage", "lpstat: Invalid destination name in list \"Nope\"", core.PrinterUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLpstatStatus(tt.output); got != tt.want {
				t.Errorf("ParseLpstatStatus(%q) = %s, want %s", tt.output, got, tt.want)
			}
		})
	}
}

type call struct {
	name string
	args []string
}

func fakeRunner(calls *[]call, out string, err error) Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, call{name: name, args: args})
		return []byte(out), err
	}
}

func TestCUPSSubmit(t *testing.T) {
	var calls []call
	c := NewCUPS("/usr/bin/lp", "").WithRunner(fakeRunner(&calls, "request id is Zebra-7 (1 file(s))\n", nil))

	if err := c.Submit(context.Background(), "/labels/a.png", "Zebra"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(calls) != 1 || calls[0].name != "/usr/bin/lp" || strings.Join(calls[0].args, " ") != "-d Zebra /labels/a.png" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestCUPSSubmitFailureIsDriverError(t *testing.T) {
	var calls []call
	c := NewCUPS("", "").WithRunner(fakeRunner(&calls, "lp: The printer or class does not exist.", errors.New("exit status 1")))

	err := c.Submit(context.Background(), "/labels/a.png", "Ghost")
	if !core.IsDriverError(err) {
		t.Fatalf("Submit() error = %v, want DriverError", err)
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("error %q lost command output", err)
	}
}

func TestCUPSStatusAndActiveJobs(t *testing.T) {
	var calls []call
	c := NewCUPS("", "lpstat").WithRunner(fakeRunner(&calls, "printer Zebra is idle.  enabled since now\n", nil))

	status, err := c.PrinterStatus(context.Background(), "Zebra")
	if err != nil || status != core.PrinterReady {
		t.Fatalf("PrinterStatus() = %s, %v", status, err)
	}
	if strings.Join(calls[0].args, " ") != "-p Zebra" {
		t.Fatalf("status args = %v", calls[0].args)
	}

	c.WithRunner(fakeRunner(&calls, "Zebra-1 root 1024 Mon\nZebra-2 root 2048 Mon\n\n", nil))
	n, err := c.ActiveJobs(context.Background(), "Zebra")
	if err != nil || n != 2 {
		t.Fatalf("ActiveJobs() = %d, %v, want 2", n, err)
	}
	if strings.Join(calls[1].args, " ") != "-o Zebra" {
		t.Fatalf("active args = %v", calls[1].args)
	}

	c.WithRunner(fakeRunner(&calls, "", errors.New("exit status 1")))
	if _, err := c.PrinterStatus(context.Background(), "Zebra"); !core.IsDriverError(err) {
		t.Fatalf("PrinterStatus() error = %v, want DriverError", err)
	}
}
