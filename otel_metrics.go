package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsSink exports player count, connection state and event counts.
type MetricsSink struct {
	nopIntegration

	players      atomic.Int64
	up           atomic.Int64
	events       metric.Int64Counter
	registration metric.Registration
}

func NewMetricsSink(provider metric.MeterProvider) (*MetricsSink, error) {
	meter := provider.Meter("github.com/manamana32321/gamechat-relay")
	s := &MetricsSink{}

	playersGauge, err := meter.Int64ObservableGauge("gamechat_players_online",
		metric.WithDescription("Players currently online, excluding hidden names"))
	if err != nil {
		return nil, fmt.Errorf("players gauge: %w", err)
	}
	upGauge, err := meter.Int64ObservableGauge("gamechat_server_up",
		metric.WithDescription("1 while the relay is connected to the game server"))
	if err != nil {
		return nil, fmt.Errorf("up gauge: %w", err)
	}
	s.events, err = meter.Int64Counter("gamechat_events_total",
		metric.WithDescription("Chat-stream events seen, by kind"))
	if err != nil {
		return nil, fmt.Errorf("events counter: %w", err)
	}

	s.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(playersGauge, s.players.Load())
		o.ObserveInt64(upGauge, s.up.Load())
		return nil
	}, playersGauge, upGauge)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return s, nil
}

func (s *MetricsSink) Name() string { return "OTel metrics" }

func (s *MetricsSink) Stop(context.Context) error {
	return s.registration.Unregister()
}

func (s *MetricsSink) UpdatePlayers(_ context.Context, players []string) error {
	s.players.Store(int64(len(players)))
	return nil
}

func (s *MetricsSink) UpdateStatus(_ context.Context, status Status) error {
	if status.Online {
		s.up.Store(1)
	} else {
		s.up.Store(0)
		s.players.Store(0)
	}
	return nil
}

func (s *MetricsSink) HandleChat(ctx context.Context, event ChatEvent) error {
	s.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(event.Kind))))
	return nil
}
