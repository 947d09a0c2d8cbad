package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type memoryExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryExporter) ForceFlush(context.Context) error { return nil }

func recordAttrs(r sdklog.Record) map[string]string {
	out := make(map[string]string)
	r.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.String()
		return true
	})
	return out
}

func newTestLogSink(kinds []Kind) (*OTelLogSink, *memoryExporter) {
	exp := &memoryExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	return NewOTelLogSink(provider.Logger("test"), kinds), exp
}

func TestOTelLogSink_HandleChat(t *testing.T) {
	sink, exp := newTestLogSink([]Kind{KindChat, KindJoin})
	at := time.Date(2024, 3, 18, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	require.NoError(t, sink.HandleChat(ctx, ChatEvent{Kind: KindChat, DisplayName: "Alice", Text: "hi", OccurredAt: at}))
	require.NoError(t, sink.HandleChat(ctx, ChatEvent{
		Kind: KindJoin, DisplayName: "Bob", OccurredAt: at,
		Attributes: map[string]string{attrClientVersion: "1.2.3"},
	}))
	require.NoError(t, sink.HandleChat(ctx, ChatEvent{Kind: KindDeath, DisplayName: "Dave", Text: "died"}))

	require.Len(t, exp.records, 2)
	assert.Equal(t, "chat", exp.records[0].Body().AsString())
	assert.Equal(t, at, exp.records[0].Timestamp())
	assert.Equal(t, map[string]string{"player": "Alice", "message": "hi"}, recordAttrs(exp.records[0]))

	assert.Equal(t, "join", exp.records[1].Body().AsString())
	assert.Equal(t, map[string]string{"player": "Bob", "clientVersion": "1.2.3"}, recordAttrs(exp.records[1]))
}

func TestOTelLogSink_UpdateStatus(t *testing.T) {
	sink, exp := newTestLogSink(nil)

	require.NoError(t, sink.UpdateStatus(context.Background(), Status{Online: false, Reason: "retries-exhausted", Attempts: 3}))
	require.Len(t, exp.records, 1)
	assert.Equal(t, "status", exp.records[0].Body().AsString())
	assert.Equal(t, map[string]string{"online": "false", "reason": "retries-exhausted", "attempts": "3"}, recordAttrs(exp.records[0]))
}
