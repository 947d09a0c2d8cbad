package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies what a ChatEvent describes.
type Kind string

const (
	KindJoin            Kind = "join"
	KindLeave           Kind = "leave"
	KindDeath           Kind = "death"
	KindChat            Kind = "chat"
	KindVersionMismatch Kind = "version-mismatch"
)

// AllKinds lists every canonical event kind in relay order.
var AllKinds = []Kind{KindJoin, KindLeave, KindDeath, KindChat, KindVersionMismatch}

// ErrUnknownKind is returned when a configured event kind is not one of AllKinds.
var ErrUnknownKind = errors.New("unknown event kind")

// ParseKind converts a configured event kind name, rejecting anything non-canonical.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// ChatEvent is one normalized occurrence from the game chat stream.
// Values are treated as immutable once the Parser returns them.
type ChatEvent struct {
	Kind           Kind
	RawDisplayName string            // name as received, markup included
	DisplayName    string            // normalizeName(RawDisplayName)
	Text           string            // chat body, death cause, or mismatch notice
	OccurredAt     time.Time         // capture time, not server time
	Attributes     map[string]string // auxiliary data such as clientVersion
}

// Attr returns an auxiliary attribute or "" when absent.
func (e ChatEvent) Attr(key string) string {
	return e.Attributes[key]
}

const attrClientVersion = "clientVersion"

// DisconnectReason explains why the Manager left the Connected or Connecting state.
type DisconnectReason string

const (
	ReasonServer           DisconnectReason = "server"
	ReasonStopped          DisconnectReason = "stopped"
	ReasonRetriesExhausted DisconnectReason = "retries-exhausted"
	ReasonError            DisconnectReason = "error"
)

// Event is emitted by the Manager to its listeners. The set of variants is closed.
type Event interface {
	isEvent()
}

// Connected is emitted when a session to the game server is established.
type Connected struct{}

// Disconnected is emitted when the Manager loses or drops its session.
// Attempts is only set for ReasonRetriesExhausted.
type Disconnected struct {
	Reason   DisconnectReason
	Attempts int
}

// Reconnecting is emitted before each scheduled reconnect. MaxRetries 0 means unbounded.
type Reconnecting struct {
	Attempt    int
	MaxRetries int
	Delay      time.Duration
}

// Unbounded reports whether reconnects continue forever.
func (r Reconnecting) Unbounded() bool { return r.MaxRetries == 0 }

// ConnectError is emitted for every failed connection attempt.
type ConnectError struct {
	Err error
}

// ChatReceived carries a parsed chat-stream event.
type ChatReceived struct {
	Event ChatEvent
}

// PlayersUpdated carries the full filtered player list, never a delta.
type PlayersUpdated struct {
	Players []string
}

// GamemodeChanged passes through the gamemode reported by the session.
type GamemodeChanged struct {
	Value string
}

func (Connected) isEvent()       {}
func (Disconnected) isEvent()    {}
func (Reconnecting) isEvent()    {}
func (ConnectError) isEvent()    {}
func (ChatReceived) isEvent()    {}
func (PlayersUpdated) isEvent()  {}
func (GamemodeChanged) isEvent() {}

// Listener receives Manager events. OnEvent must not block.
type Listener interface {
	OnEvent(event Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(event Event) { f(event) }

// ChatSender injects a line of text into the game chat.
type ChatSender interface {
	SendChat(ctx context.Context, text string) error
}
