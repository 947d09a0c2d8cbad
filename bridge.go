package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const defaultCallTimeout = 15 * time.Second

// errStartupFatal marks a Start failure that must abort the process instead of
// being isolated, e.g. a relay channel that does not exist.
var errStartupFatal = errors.New("fatal startup error")

// flushMarker is queued by Drain to learn when earlier events were dispatched.
type flushMarker struct {
	done chan struct{}
}

func (flushMarker) isEvent() {}

// Bridge fans Manager events out to every integration and isolates their failures.
type Bridge struct {
	integrations []Integration
	events       chan Event
	callTimeout  time.Duration
	log          zerolog.Logger
}

func NewBridge(integrations []Integration, log zerolog.Logger) *Bridge {
	return &Bridge{
		integrations: integrations,
		events:       make(chan Event, 100),
		callTimeout:  defaultCallTimeout,
		log:          log.With().Str("component", "bridge").Logger(),
	}
}

// OnEvent queues a Manager event without blocking the Manager.
func (b *Bridge) OnEvent(event Event) {
	select {
	case b.events <- event:
	default:
		b.log.Warn().Msgf("Event queue full, dropping %T", event)
	}
}

// Run dispatches queued events one round at a time until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-b.events:
			b.dispatch(ctx, event)
		}
	}
}

// Drain waits until every event queued before the call has been dispatched.
func (b *Bridge) Drain(ctx context.Context) error {
	marker := flushMarker{done: make(chan struct{})}
	select {
	case b.events <- marker:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-marker.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) dispatch(ctx context.Context, event Event) {
	switch e := event.(type) {
	case Connected:
		b.UpdateStatus(ctx, Status{Online: true, Reason: "connected"})
	case Disconnected:
		b.UpdateStatus(ctx, Status{Online: false, Reason: string(e.Reason), Attempts: e.Attempts})
	case PlayersUpdated:
		b.UpdatePlayers(ctx, e.Players)
	case ChatReceived:
		b.HandleChat(ctx, e.Event)
	case GamemodeChanged:
		b.UpdateGamemode(ctx, e.Value)
	case flushMarker:
		close(e.done)
	}
}

// Start starts every integration. Failures are logged and isolated, except
// those wrapping errStartupFatal, which are returned.
func (b *Bridge) Start(ctx context.Context) error {
	errs := b.each(ctx, "start", func(ctx context.Context, in Integration) error { return in.Start(ctx) })
	var fatal []error
	for i, err := range errs {
		if errors.Is(err, errStartupFatal) {
			fatal = append(fatal, fmt.Errorf("%s: %w", b.integrations[i].Name(), err))
		}
	}
	return errors.Join(fatal...)
}

func (b *Bridge) Stop(ctx context.Context) {
	b.each(ctx, "stop", func(ctx context.Context, in Integration) error { return in.Stop(ctx) })
}

func (b *Bridge) UpdatePlayers(ctx context.Context, players []string) {
	b.each(ctx, "update players", func(ctx context.Context, in Integration) error {
		return in.UpdatePlayers(ctx, append([]string(nil), players...))
	})
}

func (b *Bridge) UpdateStatus(ctx context.Context, status Status) {
	b.each(ctx, "update status", func(ctx context.Context, in Integration) error { return in.UpdateStatus(ctx, status) })
}

func (b *Bridge) UpdateGamemode(ctx context.Context, gamemode string) {
	b.each(ctx, "update gamemode", func(ctx context.Context, in Integration) error { return in.UpdateGamemode(ctx, gamemode) })
}

func (b *Bridge) HandleChat(ctx context.Context, event ChatEvent) {
	b.each(ctx, "handle chat", func(ctx context.Context, in Integration) error { return in.HandleChat(ctx, event) })
}

// SendMessage sends a plain notification through every integration.
func (b *Bridge) SendMessage(ctx context.Context, text string) {
	b.each(ctx, "send message", func(ctx context.Context, in Integration) error { return in.SendMessage(ctx, text) })
}

// each calls fn for every integration concurrently and waits for all of them,
// giving up on any call that outlives the call timeout. The returned errors are
// indexed like b.integrations.
func (b *Bridge) each(ctx context.Context, op string, fn func(context.Context, Integration) error) []error {
	errs := make([]error, len(b.integrations))
	if len(b.integrations) == 0 {
		return errs
	}
	type result struct {
		idx int
		err error
	}
	results := make(chan result, len(b.integrations))
	pending := make(map[int]bool, len(b.integrations))

	for i, in := range b.integrations {
		pending[i] = true
		go func(i int, in Integration) {
			callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
			defer cancel()
			results <- result{idx: i, err: safeCall(callCtx, in, fn)}
		}(i, in)
	}

	deadline := time.NewTimer(b.callTimeout + time.Second)
	defer deadline.Stop()
	for range b.integrations {
		select {
		case r := <-results:
			delete(pending, r.idx)
			errs[r.idx] = r.err
			if r.err != nil {
				b.log.Warn().Err(r.err).Str("integration", b.integrations[r.idx].Name()).Str("op", op).Msg("Integration call failed")
			}
		case <-deadline.C:
			for i := range pending {
				errs[i] = fmt.Errorf("%s timed out", op)
				b.log.Warn().Str("integration", b.integrations[i].Name()).Int("index", i).Str("op", op).Msg("Integration call timed out")
			}
			return errs
		}
	}
	return errs
}

func safeCall(ctx context.Context, in Integration, fn func(context.Context, Integration) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, in)
}
