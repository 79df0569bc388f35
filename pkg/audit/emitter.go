package audit

import (
	"context"
	"log/slog"
	"sort"
)

// Emitter accepts audit records for outward delivery.
type Emitter interface {
	Emit(Record) error
}

// NopEmitter discards all records. Use when no audit sink is configured.
type NopEmitter struct{}

func (NopEmitter) Emit(Record) error { return nil }

// SlogEmitter writes records as structured log lines.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter creates an emitter that writes to logger, or slog.Default()
// when logger is nil.
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit logs r. Warning and more severe records log at warn level.
func (e *SlogEmitter) Emit(r Record) error {
	level := slog.LevelInfo
	if r.Severity <= SeverityWarning {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("event", string(r.Type)),
		slog.Time("timestamp", r.Timestamp),
		slog.String("actor", r.ActorID),
		slog.String("resource", r.Resource),
	}
	if r.Role != "" {
		attrs = append(attrs, slog.String("role", r.Role))
	}
	if r.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", r.RequestID))
	}
	for _, k := range sortedKeys(r.Details) {
		attrs = append(attrs, slog.String(k, r.Details[k]))
	}
	e.logger.LogAttrs(context.Background(), level, "audit", attrs...)
	return nil
}

// Fanout publishes each record to every backend. Backend errors are logged
// and never returned; a failing sink must not fail the operation that
// produced the record.
type Fanout struct {
	backends []Emitter
	logger   *slog.Logger
}

// NewFanout creates a publisher over backends. If logger is nil,
// slog.Default() is used for error reporting.
func NewFanout(logger *slog.Logger, backends ...Emitter) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{backends: backends, logger: logger}
}

// Publish writes r to all backends.
func (f *Fanout) Publish(r Record) {
	if f == nil {
		return
	}
	for _, b := range f.backends {
		if err := b.Emit(r); err != nil {
			f.logger.Error("audit emit failed", "event", string(r.Type), "resource", r.Resource, "error", err)
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
