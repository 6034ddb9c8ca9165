package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/phi-deid/deid-go/utils"
)

// AuditLogLevel defines the verbosity of audit logging.
type AuditLogLevel string

const (
	// AuditLogLevelMinimal logs only warnings and errors with content removed
	AuditLogLevelMinimal AuditLogLevel = "minimal"

	// AuditLogLevelStandard logs events with truncated content
	AuditLogLevelStandard AuditLogLevel = "standard"

	// AuditLogLevelVerbose logs all details including content
	AuditLogLevelVerbose AuditLogLevel = "verbose"
)

// AuditLogSeverity defines the severity of audit log events.
type AuditLogSeverity string

const (
	// SeverityInfo for normal operations
	SeverityInfo AuditLogSeverity = "info"

	// SeverityWarning for degraded but recoverable conditions
	SeverityWarning AuditLogSeverity = "warning"

	// SeverityError for failures
	SeverityError AuditLogSeverity = "error"
)

// AuditLog is one JSONL audit entry: what was found or what went wrong,
// and where.
type AuditLog struct {
	Timestamp string           `json:"timestamp"`
	EventType string           `json:"event_type"`
	Severity  AuditLogSeverity `json:"severity"`

	// Document identifies the row/document the event belongs to
	Document string `json:"document,omitempty"`

	// Input and Transformed carry document content, subject to level
	// truncation
	Input       string `json:"input,omitempty"`
	Transformed string `json:"transformed,omitempty"`

	// Entities is the audit trail of merged detections
	Entities []utils.MergedEntity `json:"entities,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// auditContentCap bounds content fields at the standard level.
const auditContentCap = 100

// AuditLogger writes JSONL audit events. It is plain configuration
// passed into each component's constructor; there is no process-wide
// default instance. A nil *AuditLogger is valid and silently discards
// events.
type AuditLogger struct {
	mu     sync.Mutex
	writer io.Writer
	level  AuditLogLevel
}

// NewAuditLogger creates an audit logger writing to w. The caller owns
// the writer's lifecycle.
func NewAuditLogger(w io.Writer, level AuditLogLevel) *AuditLogger {
	if level == "" {
		level = AuditLogLevelStandard
	}
	return &AuditLogger{writer: w, level: level}
}

// NewFileAuditLogger creates an audit logger appending to path.
func NewFileAuditLogger(path string, level AuditLogLevel) (*AuditLogger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return NewAuditLogger(f, level), nil
}

// Event writes one audit entry, applying level filtering and content
// truncation. Safe on a nil receiver.
func (l *AuditLogger) Event(event AuditLog) {
	if l == nil || l.writer == nil {
		return
	}

	if l.level == AuditLogLevelMinimal && event.Severity == SeverityInfo {
		return
	}

	if event.Timestamp == "" {
		event.Timestamp = time.Now().Format(time.RFC3339Nano)
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	switch l.level {
	case AuditLogLevelStandard:
		event.Input = truncateContent(event.Input)
		event.Transformed = truncateContent(event.Transformed)
	case AuditLogLevelMinimal:
		if event.Input != "" {
			event.Input = "[redacted]"
		}
		if event.Transformed != "" {
			event.Transformed = "[redacted]"
		}
	}

	entry, err := json.Marshal(event)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.writer, string(entry))
}

func truncateContent(s string) string {
	if len(s) <= auditContentCap {
		return s
	}
	cut := auditContentCap
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "... [truncated]"
}
