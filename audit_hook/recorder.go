package audithook

import (
	"context"
	"log/slog"
	"sort"
)

// SlogRecorder writes each audit event as one log record. Critical events
// are logged at error level, warnings at warn, everything else at info.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder returns a Recorder backed by logger.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	return &SlogRecorder{logger: logger}
}

// Record implements Recorder.
func (r *SlogRecorder) Record(ctx context.Context, evt *AuditEvent) error {
	level := slog.LevelInfo
	switch evt.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	keys := make([]string, 0, len(evt.Metadata))
	for k := range evt.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	meta := make([]any, 0, len(keys))
	for _, k := range keys {
		meta = append(meta, slog.Any(k, evt.Metadata[k]))
	}

	attrs := []slog.Attr{
		slog.String("action", evt.Action),
		slog.String("category", evt.Category),
		slog.String("resource", evt.Resource),
		slog.String("outcome", evt.Outcome),
	}
	if evt.ResourceID != "" {
		attrs = append(attrs, slog.String("resource_id", evt.ResourceID))
	}
	if evt.Reason != "" {
		attrs = append(attrs, slog.String("reason", evt.Reason))
	}
	attrs = append(attrs, slog.Group("meta", meta...))

	r.logger.LogAttrs(ctx, level, "audit", attrs...)
	return nil
}
