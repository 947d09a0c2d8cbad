package main

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
)

// OTelLogSink sends chat events and status changes as structured OTel log records (→ Loki).
type OTelLogSink struct {
	nopIntegration

	logger otellog.Logger
	kinds  map[Kind]bool
}

func NewOTelLogSink(logger otellog.Logger, kinds []Kind) *OTelLogSink {
	allowed := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	return &OTelLogSink{logger: logger, kinds: allowed}
}

func (s *OTelLogSink) Name() string { return "OTel logs" }

func (s *OTelLogSink) HandleChat(ctx context.Context, event ChatEvent) error {
	if !s.kinds[event.Kind] {
		return nil
	}

	attrs := []otellog.KeyValue{otellog.String("player", event.DisplayName)}
	if event.Text != "" {
		attrs = append(attrs, otellog.String("message", event.Text))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, otellog.String(k, v))
	}

	emitRecord(ctx, s.logger, event.OccurredAt, string(event.Kind), attrs...)
	return nil
}

func (s *OTelLogSink) UpdateStatus(ctx context.Context, status Status) error {
	attrs := []otellog.KeyValue{
		otellog.Bool("online", status.Online),
		otellog.String("reason", status.Reason),
	}
	if status.Attempts > 0 {
		attrs = append(attrs, otellog.Int("attempts", status.Attempts))
	}
	emitRecord(ctx, s.logger, time.Now(), "status", attrs...)
	return nil
}

func emitRecord(ctx context.Context, logger otellog.Logger, at time.Time, body string, attrs ...otellog.KeyValue) {
	var r otellog.Record
	r.SetTimestamp(at)
	r.SetBody(otellog.StringValue(body))
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}
