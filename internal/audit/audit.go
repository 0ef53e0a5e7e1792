// Package audit implements the append-only audit log: one timestamped
// line per record, with an optional pretty-printed JSON block for
// structured context. The format is informal and not meant for machine
// parsing.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// FatalFunc is invoked when an append fails. A broken audit trail
// invalidates the service's operability guarantees, so the default
// terminates the process.
type FatalFunc func(err error)

// Logger appends records to a local text file. Each Record call issues a
// single write on an O_APPEND descriptor, so concurrent flows interleave
// whole entries without explicit locking.
type Logger struct {
	file   *os.File
	fatal  FatalFunc
	logger *slog.Logger
}

// Open opens (creating if needed) the audit log file for appending.
func Open(path string, fatal FatalFunc, logger *slog.Logger) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	if fatal == nil {
		fatal = func(err error) {
			logger.Error("audit log write failed, terminating", "err", err)
			os.Exit(1)
		}
	}
	return &Logger{file: f, fatal: fatal, logger: logger}, nil
}

// Record appends one entry: an ISO-8601 timestamp, the message, and, if
// data is non-nil, a pretty-printed serialization of it. A write failure
// is escalated through the fatal hook rather than returned; this is the
// one place a local I/O failure intentionally ends the process.
func (l *Logger) Record(message string, data any) {
	entry := time.Now().UTC().Format(time.RFC3339) + " - " + message
	if data != nil {
		pretty, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			entry += fmt.Sprintf(": %v", data)
		} else {
			entry += ":\n" + string(pretty)
		}
	}
	entry += "\n"

	if _, err := l.file.WriteString(entry); err != nil {
		l.fatal(fmt.Errorf("append audit record: %w", err))
	}
}

func (l *Logger) Close() error {
	return l.file.Close()
}
