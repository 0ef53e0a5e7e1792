package audit

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestLogger(t *testing.T, fatal FatalFunc) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log.txt")
	l, err := Open(path, fatal, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l, path
}

func TestRecord_MessageOnly(t *testing.T) {
	l, path := openTestLogger(t, nil)
	l.Record("startup complete", nil)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSuffix(string(data), "\n")

	ts, msg, ok := strings.Cut(line, " - ")
	if !ok {
		t.Fatalf("entry missing timestamp separator: %q", line)
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Fatalf("timestamp not RFC3339: %q", ts)
	}
	if msg != "startup complete" {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestRecord_StructuredDataPrettyPrinted(t *testing.T) {
	l, path := openTestLogger(t, nil)
	l.Record("Content", map[string]any{"room": "C123", "identity": "alice@example.com"})
	_ = l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	got := string(data)

	if !strings.Contains(got, "Content:\n") {
		t.Fatalf("structured entry should end the message with a colon: %q", got)
	}
	// Pretty-printed JSON is indented across multiple lines.
	if !strings.Contains(got, "  \"identity\": \"alice@example.com\"") {
		t.Fatalf("data not pretty-printed: %q", got)
	}
}

func TestRecord_AppendsAcrossCalls(t *testing.T) {
	l, path := openTestLogger(t, nil)
	l.Record("first", nil)
	l.Record("second", nil)
	_ = l.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries, got %d: %q", len(lines), string(data))
	}
}

func TestRecord_WriteFailureIsFatal(t *testing.T) {
	var fatalErr error
	l, _ := openTestLogger(t, func(err error) { fatalErr = err })

	// Close the descriptor so the next append fails.
	_ = l.Close()
	l.Record("after close", nil)

	if fatalErr == nil {
		t.Fatal("append on closed file must escalate through the fatal hook")
	}
}

func TestOpen_UncreatablePathErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "log.txt")
	if _, err := Open(path, nil, testLogger()); err == nil {
		t.Fatal("expected error for unwritable path")
	}
}
