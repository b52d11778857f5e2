package authcore

import (
	"context"
	"log/slog"
)

type eventInput struct {
	category   EventCategory
	severity   Severity
	userID     string
	identifier string
	success    bool
	code       string
	detail     map[string]string
}

// emit queues a security event. It never blocks on storage and never fails
// the calling flow; dropped events are counted.
func (e *Engine) emit(ctx context.Context, in eventInput) {
	if e == nil || e.audit == nil {
		return
	}
	if in.severity == "" {
		in.severity = SeverityInfo
	}

	event := SecurityEvent{
		Timestamp:  e.now().UTC(),
		Category:   in.category,
		Severity:   in.severity,
		UserID:     in.userID,
		Identifier: in.identifier,
		SourceIP:   ClientIPFromContext(ctx),
		UserAgent:  UserAgentFromContext(ctx),
		Success:    in.success,
		Code:       in.code,
		Detail:     in.detail,
	}
	if !e.audit.Emit(ctx, event) {
		e.metricInc(MetricAuditDropped)
		e.logger.Debug("security event dropped",
			slog.String("component", "audit"),
			slog.String("category", string(in.category)),
		)
	}
}

// auditErrorCode maps an Engine error to the code recorded on events.
func auditErrorCode(err error) string {
	_, code := PublicError(err)
	return code
}
