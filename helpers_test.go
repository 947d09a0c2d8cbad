package main

import (
	"context"
	"sync"
	"testing"
	"time"
)

// recorder is a Listener that keeps every event and lets tests wait for one.
type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 256)}
}

func (r *recorder) OnEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.ch <- ev:
	default:
	}
}

func (r *recorder) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event; got %#v", r.snapshot())
			return nil
		}
	}
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func isType[T Event](ev Event) bool {
	_, ok := ev.(T)
	return ok
}

func countType[T Event](events []Event) int {
	n := 0
	for _, ev := range events {
		if isType[T](ev) {
			n++
		}
	}
	return n
}

// fakeChat records SendChat calls.
type fakeChat struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (c *fakeChat) SendChat(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.lines = append(c.lines, text)
	return nil
}

func (c *fakeChat) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}
