package service

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vlogmedia/vlog/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Audit record field limits. Oversized values are truncated, never rejected;
// an audit write must not fail the operation it describes.
const (
	maxAuditUserAgentLen = 200
	maxAuditErrorLen     = 500
)

// AuditEntry is one JSON line in the audit log.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// AuditLogger appends admin-boundary events to a size-rotated log file.
// Writes are best-effort: failures are logged and swallowed.
type AuditLogger struct {
	mu     sync.Mutex
	out    io.WriteCloser
	path   string
	logger *slog.Logger
}

// NewAuditLogger opens the audit log with size-based rotation.
func NewAuditLogger(cfg config.AuditConfig, log *slog.Logger) *AuditLogger {
	if log == nil {
		log = slog.Default()
	}
	return &AuditLogger{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		},
		path:   cfg.Path,
		logger: log.With(slog.String("component", "audit")),
	}
}

// Record appends one entry. Oversized free-form fields are truncated.
func (a *AuditLogger) Record(entry AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.UserAgent = truncate(entry.UserAgent, maxAuditUserAgentLen)
	entry.Error = truncate(entry.Error, maxAuditErrorLen)

	line, err := json.Marshal(entry)
	if err != nil {
		a.logger.Warn("audit entry not serializable", slog.String("action", entry.Action))
		return
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.out.Write(line); err != nil {
		a.logger.Warn("audit write failed", slog.String("error", err.Error()))
	}
}

// Tail returns up to limit most recent entries from the current log file,
// newest first. Lines that fail to parse (from partial rotation) are skipped.
func (a *AuditLogger) Tail(limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	a.mu.Lock()
	raw, err := os.ReadFile(a.path)
	a.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	entries := make([]AuditEntry, 0, limit)
	for i := len(lines) - 1; i >= 0 && len(entries) < limit; i-- {
		var entry AuditEntry
		if json.Unmarshal([]byte(lines[i]), &entry) != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close flushes and closes the underlying file.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out.Close()
}

// truncate shortens s to at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
