package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Greeter sends a fixed script into the game chat after every successful connect.
type Greeter struct {
	chat     ChatSender
	messages []string
	delay    time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewGreeter(chat ChatSender, messages []string, delay time.Duration, log zerolog.Logger) *Greeter {
	return &Greeter{
		chat:     chat,
		messages: messages,
		delay:    delay,
		log:      log.With().Str("component", "greeter").Logger(),
	}
}

func (g *Greeter) OnEvent(event Event) {
	switch event.(type) {
	case Connected:
		if len(g.messages) == 0 {
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		g.replace(cancel)
		go g.run(ctx)
	case Disconnected:
		g.replace(nil)
	}
}

func (g *Greeter) replace(cancel context.CancelFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
	g.cancel = cancel
}

func (g *Greeter) run(ctx context.Context) {
	for i, msg := range g.messages {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(g.delay):
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := g.chat.SendChat(ctx, msg); err != nil {
			g.log.Warn().Err(err).Int("index", i).Msg("Failed to send greeting")
			return
		}
	}
}
