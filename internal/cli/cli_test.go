package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "store:\n  driver: sqlite\n  path: " + filepath.Join(dir, "printq.db") + "\n" +
		"archive:\n  path: " + filepath.Join(dir, "archives") + "\n" +
		"logging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestJobsLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "-c", cfg, "jobs", "enqueue", "--order", "o1", "-p", "4", "/labels/a.png")
	if err != nil {
		t.Fatalf("enqueue error = %v", err)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "Job enqueued:"))
	if id == "" {
		t.Fatalf("enqueue output = %q", out)
	}

	out, err = run(t, "-c", cfg, "jobs", "list")
	if err != nil || !strings.Contains(out, id) || !strings.Contains(out, "prio=4") {
		t.Fatalf("list = %q, %v", out, err)
	}

	out, err = run(t, "-c", cfg, "jobs", "restart", id)
	if err != nil || !strings.Contains(out, "Job restarted: "+id) {
		t.Fatalf("restart = %q, %v", out, err)
	}

	if _, err := run(t, "-c", cfg, "jobs", "cancel", id); err == nil {
		t.Fatal("cancel of restarted-away id succeeded")
	}

	out, err = run(t, "-c", cfg, "jobs", "completed")
	if err != nil || !strings.Contains(out, "No jobs found.") {
		t.Fatalf("completed = %q, %v", out, err)
	}
}

func TestPrintersCommands(t *testing.T) {
	cfg := writeConfig(t)

	if _, err := run(t, "-c", cfg, "printers", "add", "Zebra", "--address", "10.0.0.9"); err != nil {
		t.Fatalf("add error = %v", err)
	}
	if _, err := run(t, "-c", cfg, "printers", "add", "Zebra"); err == nil {
		t.Fatal("duplicate add succeeded")
	}

	out, err := run(t, "-c", cfg, "printers", "list")
	if err != nil || !strings.Contains(out, "Zebra") || !strings.Contains(out, "address=10.0.0.9") || !strings.Contains(out, "type=thermal") {
		t.Fatalf("list = %q, %v", out, err)
	}

	if _, err := run(t, "-c", cfg, "printers", "remove", "Zebra"); err != nil {
		t.Fatalf("remove error = %v", err)
	}
	out, _ = run(t, "-c", cfg, "printers", "list")
	if !strings.Contains(out, "No printers registered.") {
		t.Fatalf("list after remove = %q", out)
	}
}

func TestArchiveRun(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, "-c", cfg, "archive", "run")
	if err != nil || !strings.Contains(out, "Archived 0 jobs") {
		t.Fatalf("archive run = %q, %v", out, err)
	}
}

func TestHashPassword(t *testing.T) {
	out, err := run(t, "hash-password", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")) != nil {
		t.Fatalf("hash %q does not verify", out)
	}
}
