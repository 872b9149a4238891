package dispatch

import (
	"context"
	"log/slog"
)

// LogReporter writes delivery reports to a structured logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a LogReporter. A nil logger uses slog.Default().
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Dispatched(ctx context.Context, cc *CommunicationContext, _ any, results []*Result) {
	for _, res := range results {
		r.logger.InfoContext(ctx, "email dispatched", resultAttrs(cc, res)...)
	}
}

func (r *LogReporter) Error(ctx context.Context, cc *CommunicationContext, _ any, results []*Result) {
	for _, res := range results {
		r.logger.ErrorContext(ctx, "email dispatch failed", resultAttrs(cc, res)...)
	}
}

func resultAttrs(cc *CommunicationContext, res *Result) []any {
	attrs := []any{"channel", cc.ChannelID, "provider", cc.ChannelProviderID}
	if res == nil {
		return attrs
	}
	attrs = append(attrs,
		"resource_id", res.ResourceID,
		"status", res.Status.Code.String(),
		"detail", res.Status.Detail,
	)
	if res.MessageString != "" {
		attrs = append(attrs, "response", res.MessageString)
	}
	if res.Err != nil {
		attrs = append(attrs, "error", res.Err)
	}
	return attrs
}
