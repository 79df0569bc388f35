package authz

import (
	"context"
	"log/slog"
	"time"
)

// AuthzAuditEntry represents a single authorization decision for audit logging.
type AuthzAuditEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id"`
	Principal    string    `json:"principal"`
	Role         string    `json:"role"`
	Action       string    `json:"action"`
	Resource     string    `json:"resource"`
	ResourceType string    `json:"resource_type"`
	Decision     string    `json:"decision"` // "allow" or "deny"
	Reason       string    `json:"reason"`
	PolicyID     string    `json:"policy_id,omitempty"`
	DurationUS   int64     `json:"duration_us"`
}

// AuditLogger records authorization decisions for compliance and forensics.
type AuditLogger interface {
	LogDecision(ctx context.Context, entry AuthzAuditEntry) error
}

// SlogAuditLogger writes authorization decisions to structured logging.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates an audit logger that writes to slog.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

// LogDecision writes an authorization decision to structured logging.
// Denials are logged at warn level.
func (l *SlogAuditLogger) LogDecision(ctx context.Context, entry AuthzAuditEntry) error {
	level := slog.LevelInfo
	if entry.Decision != "allow" {
		level = slog.LevelWarn
	}

	l.logger.LogAttrs(ctx, level, "authorization decision",
		slog.String("event", "authorization_decision"),
		slog.Time("timestamp", entry.Timestamp),
		slog.String("request_id", entry.RequestID),
		slog.String("principal", entry.Principal),
		slog.String("role", entry.Role),
		slog.String("action", entry.Action),
		slog.String("resource", entry.Resource),
		slog.String("resource_type", entry.ResourceType),
		slog.String("decision", entry.Decision),
		slog.String("reason", entry.Reason),
		slog.String("policy_id", entry.PolicyID),
		slog.Int64("duration_us", entry.DurationUS),
	)
	return nil
}

// MultiAuditLogger writes to multiple audit loggers.
type MultiAuditLogger struct {
	loggers []AuditLogger
}

// NewMultiAuditLogger creates an audit logger that writes to multiple destinations.
func NewMultiAuditLogger(loggers ...AuditLogger) *MultiAuditLogger {
	return &MultiAuditLogger{loggers: loggers}
}

// LogDecision writes to all configured loggers and returns the first error.
func (l *MultiAuditLogger) LogDecision(ctx context.Context, entry AuthzAuditEntry) error {
	var firstErr error
	for _, logger := range l.loggers {
		if err := logger.LogDecision(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NopAuditLogger discards all audit entries.
type NopAuditLogger struct{}

func (NopAuditLogger) LogDecision(context.Context, AuthzAuditEntry) error { return nil }
