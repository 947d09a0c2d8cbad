package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIntegration struct {
	name        string
	startErr    error
	playersErr  error
	panicOnChat bool
	waitForCtx  bool          // UpdatePlayers blocks until its context ends
	hang        chan struct{} // UpdateGamemode blocks until closed, ignoring its context

	mu        sync.Mutex
	started   int
	stopped   int
	players   [][]string
	statuses  []Status
	chats     []ChatEvent
	gamemodes []string
	messages  []string
}

func (f *fakeIntegration) Name() string { return f.name }

func (f *fakeIntegration) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.startErr
}

func (f *fakeIntegration) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeIntegration) UpdatePlayers(ctx context.Context, players []string) error {
	if f.waitForCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.players = append(f.players, players)
	return f.playersErr
}

func (f *fakeIntegration) UpdateStatus(_ context.Context, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeIntegration) UpdateGamemode(_ context.Context, gamemode string) error {
	if f.hang != nil {
		<-f.hang
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gamemodes = append(f.gamemodes, gamemode)
	return nil
}

func (f *fakeIntegration) HandleChat(_ context.Context, event ChatEvent) error {
	if f.panicOnChat {
		panic("sink exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, event)
	return nil
}

func (f *fakeIntegration) SendMessage(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func TestBridge_FailingSinkDoesNotStopOthers(t *testing.T) {
	a := &fakeIntegration{name: "A", playersErr: errors.New("rate limited")}
	b := &fakeIntegration{name: "B"}
	bridge := NewBridge([]Integration{a, b}, zerolog.Nop())

	bridge.UpdatePlayers(context.Background(), []string{"Alice"})
	assert.Equal(t, [][]string{{"Alice"}}, b.players)
	assert.Equal(t, [][]string{{"Alice"}}, a.players)
}

func TestBridge_PanickingSinkIsRecovered(t *testing.T) {
	a := &fakeIntegration{name: "A", panicOnChat: true}
	b := &fakeIntegration{name: "B"}
	bridge := NewBridge([]Integration{a, b}, zerolog.Nop())

	ev := ChatEvent{Kind: KindChat, DisplayName: "Alice", Text: "hi"}
	bridge.HandleChat(context.Background(), ev)
	assert.Equal(t, []ChatEvent{ev}, b.chats)
}

func TestBridge_SlowSinkIsBoundedByCallTimeout(t *testing.T) {
	a := &fakeIntegration{name: "A", waitForCtx: true}
	b := &fakeIntegration{name: "B"}
	bridge := NewBridge([]Integration{a, b}, zerolog.Nop())
	bridge.callTimeout = 20 * time.Millisecond

	start := time.Now()
	bridge.UpdatePlayers(context.Background(), []string{"Alice"})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, b.players, 1)
}

func TestBridge_StartIsolatesFailures(t *testing.T) {
	a := &fakeIntegration{name: "A", startErr: errors.New("bad token")}
	b := &fakeIntegration{name: "B"}
	bridge := NewBridge([]Integration{a, b}, zerolog.Nop())

	assert.NoError(t, bridge.Start(context.Background()))
	bridge.Stop(context.Background())
	assert.Equal(t, 1, b.started)
	assert.Equal(t, 1, a.stopped)
	assert.Equal(t, 1, b.stopped)
}

func TestBridge_StartReturnsFatalFailures(t *testing.T) {
	a := &fakeIntegration{name: "A", startErr: errors.New("listen: address in use")}
	b := &fakeIntegration{name: "B", startErr: fmt.Errorf("%w: unknown channel", errStartupFatal)}
	bridge := NewBridge([]Integration{a, b}, zerolog.Nop())

	err := bridge.Start(context.Background())
	require.ErrorIs(t, err, errStartupFatal)
	assert.ErrorContains(t, err, "B: ")
	assert.NotContains(t, err.Error(), "address in use")
}

func TestBridge_ErrorsIndexedPerIntegration(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")
	sinks := []Integration{
		&fakeIntegration{name: "Advertiser", playersErr: first},
		&fakeIntegration{name: "Advertiser"},
		&fakeIntegration{name: "Advertiser", playersErr: second},
	}
	bridge := NewBridge(sinks, zerolog.Nop())

	errs := bridge.each(context.Background(), "update players", func(ctx context.Context, in Integration) error {
		return in.UpdatePlayers(ctx, nil)
	})
	assert.Equal(t, []error{first, nil, second}, errs)
}

func TestBridge_TimedOutCallsReportedPerIntegration(t *testing.T) {
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	sinks := []Integration{
		&fakeIntegration{name: "Webhook", hang: hang},
		&fakeIntegration{name: "Webhook"},
		&fakeIntegration{name: "Webhook", hang: hang},
	}
	bridge := NewBridge(sinks, zerolog.Nop())
	bridge.callTimeout = 10 * time.Millisecond

	errs := bridge.each(context.Background(), "update gamemode", func(ctx context.Context, in Integration) error {
		return in.UpdateGamemode(ctx, "creative")
	})
	require.Len(t, errs, 3)
	assert.ErrorContains(t, errs[0], "timed out")
	assert.NoError(t, errs[1])
	assert.ErrorContains(t, errs[2], "timed out")
}

func TestBridge_DispatchesManagerEvents(t *testing.T) {
	sink := &fakeIntegration{name: "sink"}
	bridge := NewBridge([]Integration{sink}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	chat := ChatEvent{Kind: KindJoin, DisplayName: "Bob"}
	bridge.OnEvent(Connected{})
	bridge.OnEvent(PlayersUpdated{Players: []string{"Bob"}})
	bridge.OnEvent(ChatReceived{Event: chat})
	bridge.OnEvent(GamemodeChanged{Value: "survival"})
	bridge.OnEvent(Reconnecting{Attempt: 1})
	bridge.OnEvent(Disconnected{Reason: ReasonRetriesExhausted, Attempts: 3})
	require.NoError(t, bridge.Drain(ctx))

	assert.Equal(t, []Status{
		{Online: true, Reason: "connected"},
		{Online: false, Reason: "retries-exhausted", Attempts: 3},
	}, sink.statuses)
	assert.Equal(t, [][]string{{"Bob"}}, sink.players)
	assert.Equal(t, []ChatEvent{chat}, sink.chats)
	assert.Equal(t, []string{"survival"}, sink.gamemodes)
}

func TestBridge_SendMessage(t *testing.T) {
	sink := &fakeIntegration{name: "sink"}
	NewBridge([]Integration{sink}, zerolog.Nop()).SendMessage(context.Background(), "maintenance at noon")
	assert.Equal(t, []string{"maintenance at noon"}, sink.messages)
}

func TestBridge_DrainHonoursContext(t *testing.T) {
	bridge := NewBridge(nil, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bridge.Drain(ctx), context.DeadlineExceeded)
}
