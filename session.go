package main

import (
	"context"
	"sync"
)

// Session is one connection to the game server. A Session is used for a single
// connect attempt; the Manager asks its SessionFactory for a fresh one every time.
type Session interface {
	// Start connects and returns once the session is usable or has failed.
	// ctx only bounds the connect phase.
	Start(ctx context.Context) error
	// Close tears the session down. notify asks the session to tell the far end.
	Close(notify bool) error
	SendChat(ctx context.Context, text string) error
	// Subscribe registers fn for session events and returns a function that removes it.
	Subscribe(fn func(SessionEvent)) (unsubscribe func())
}

type SessionFactory func() (Session, error)

// SessionEvent is emitted by a Session. The set of variants is closed.
type SessionEvent interface {
	isSessionEvent()
}

type SessionConnected struct{}

// SessionChat carries one raw chat string. FromLog marks server log lines that
// still carry a level/source prefix.
type SessionChat struct {
	Raw     string
	FromLog bool
}

type SessionPlayer struct {
	Name string
}

// SessionPlayers is a full snapshot of who is online.
type SessionPlayers struct {
	Players []SessionPlayer
}

type SessionDisconnect struct {
	Reason string
}

// SessionUpdate carries auxiliary session state.
type SessionUpdate struct {
	Gamemode string
}

func (SessionConnected) isSessionEvent()  {}
func (SessionChat) isSessionEvent()       {}
func (SessionPlayers) isSessionEvent()    {}
func (SessionDisconnect) isSessionEvent() {}
func (SessionUpdate) isSessionEvent()     {}

// sessionEmitter implements Subscribe/emit for Session implementations.
// Handlers may unsubscribe from inside a callback.
type sessionEmitter struct {
	mu       sync.Mutex
	nextID   int
	handlers []sessionHandler
}

type sessionHandler struct {
	id int
	fn func(SessionEvent)
}

func (e *sessionEmitter) Subscribe(fn func(SessionEvent)) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, sessionHandler{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, h := range e.handlers {
				if h.id == id {
					e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

func (e *sessionEmitter) emit(ev SessionEvent) {
	e.mu.Lock()
	handlers := e.handlers
	e.mu.Unlock()
	for _, h := range handlers {
		h.fn(ev)
	}
}

func (e *sessionEmitter) subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}
