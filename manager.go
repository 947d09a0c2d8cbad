package main

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by SendChat outside the Connected state.
var ErrNotConnected = errors.New("not connected to game server")

type State int

const (
	StateStopped State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type ReconnectPolicy struct {
	Enabled    bool
	MaxRetries int // 0 = unbounded
	Delay      time.Duration
}

type ManagerConfig struct {
	BotName         string
	ExcludeBot      bool     // hide BotName from player lists
	ExcludeNames    []string // hidden from player lists, case-insensitive
	ExpectedVersion string
	Reconnect       ReconnectPolicy
}

var blankLines = regexp.MustCompile(`\n{2,}`)

// Manager owns the session to the game server. It connects, reconnects on
// failure, normalizes the chat stream and emits typed Events to its listeners.
//
// Transitions run under mu. Events are queued under mu and delivered in order
// by whichever goroutine drains the queue, never while mu is held, so listeners
// may call back into the Manager.
type Manager struct {
	cfg        ManagerConfig
	newSession SessionFactory
	parser     *Parser
	hidden     map[string]bool
	log        zerolog.Logger

	mu            sync.Mutex
	state         State
	stopRequested bool
	attempt       int
	gen           uint64 // bumped per connect attempt and on Stop; stale callbacks compare against it
	cancelConnect context.CancelFunc
	session       Session
	detach        func()
	timer         *time.Timer
	players       *PlayerSet

	listeners  []Listener
	pending    []Event
	delivering bool
}

func NewManager(cfg ManagerConfig, newSession SessionFactory, log zerolog.Logger) *Manager {
	hidden := make(map[string]bool)
	for _, name := range cfg.ExcludeNames {
		if key := playerKey(normalizeName(name)); key != "" {
			hidden[key] = true
		}
	}
	if cfg.ExcludeBot && cfg.BotName != "" {
		hidden[playerKey(normalizeName(cfg.BotName))] = true
	}
	return &Manager{
		cfg:        cfg,
		newSession: newSession,
		parser:     NewParser(cfg.ExpectedVersion),
		hidden:     hidden,
		log:        log.With().Str("component", "manager").Logger(),
		players:    NewPlayerSet(),
	}
}

// Subscribe registers a listener. Listeners added after Start may miss earlier events.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Players returns the current filtered player list.
func (m *Manager) Players() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.players.View(m.hidden)
}

// Start begins connecting in the background. It is a no-op unless Stopped.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.state != StateStopped {
		m.mu.Unlock()
		return
	}
	m.stopRequested = false
	m.attempt = 0
	m.state = StateConnecting
	m.connectLocked()
	m.mu.Unlock()
}

// Stop closes the session and cancels any pending reconnect. Calling it again,
// or calling it while already Stopped, does nothing.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	m.stopRequested = true
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancelConnect != nil {
		m.cancelConnect()
		m.cancelConnect = nil
	}
	sess, detach := m.session, m.detach
	m.session, m.detach = nil, nil
	m.state = StateStopped
	m.attempt = 0
	m.players.Reset()
	m.emitLocked(Disconnected{Reason: ReasonStopped})
	m.mu.Unlock()

	if detach != nil {
		detach()
	}
	if sess != nil {
		if err := sess.Close(true); err != nil {
			m.log.Warn().Err(err).Msg("Failed to close game session")
		}
	}
	m.deliver()
}

// SendChat forwards text to the game chat. Blank text is ignored.
func (m *Manager) SendChat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	m.mu.Lock()
	sess := m.session
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || sess == nil {
		return ErrNotConnected
	}
	return sess.SendChat(ctx, text)
}

func (m *Manager) connectLocked() {
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelConnect = cancel
	go m.connect(ctx, cancel, gen)
}

func (m *Manager) connect(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()
	log := m.log.With().Str("session_id", uuid.NewString()).Logger()
	log.Debug().Msg("Connecting to game server")

	sess, err := m.newSession()
	var detach func()
	if err == nil {
		detach = sess.Subscribe(func(ev SessionEvent) { m.handleSessionEvent(gen, log, ev) })
		if err = sess.Start(ctx); err != nil {
			detach()
			_ = sess.Close(false)
		}
	}

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		if err == nil {
			detach()
			_ = sess.Close(false)
		}
		return
	}
	m.cancelConnect = nil
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to game server")
		m.connectFailedLocked(err)
	} else {
		log.Info().Msg("Connected to game server")
		m.session = sess
		m.detach = detach
		m.state = StateConnected
		m.attempt = 0
		m.emitLocked(Connected{})
	}
	m.mu.Unlock()
	m.deliver()
}

func (m *Manager) connectFailedLocked(err error) {
	m.emitLocked(ConnectError{Err: err})
	if m.stopRequested || !m.cfg.Reconnect.Enabled {
		m.state = StateStopped
		m.emitLocked(Disconnected{Reason: ReasonError})
		return
	}
	m.scheduleLocked()
}

func (m *Manager) scheduleLocked() {
	m.attempt++
	limit := m.cfg.Reconnect.MaxRetries
	if limit > 0 && m.attempt > limit {
		m.log.Error().Int("attempts", m.attempt-1).Msg("Giving up on reconnecting")
		m.state = StateStopped
		m.emitLocked(Disconnected{Reason: ReasonRetriesExhausted, Attempts: m.attempt - 1})
		return
	}
	delay := m.cfg.Reconnect.Delay
	m.emitLocked(Reconnecting{Attempt: m.attempt, MaxRetries: limit, Delay: delay})

	// time.AfterFunc does not keep the process alive; Stop cancels it via gen and timer.Stop.
	gen := m.gen
	m.timer = time.AfterFunc(delay, func() { m.retry(gen) })
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopRequested || gen != m.gen || m.state != StateConnecting {
		return
	}
	m.timer = nil
	m.connectLocked()
}

func (m *Manager) handleSessionEvent(gen uint64, log zerolog.Logger, ev SessionEvent) {
	switch e := ev.(type) {
	case SessionConnected:
		log.Debug().Msg("Session reported connected")
	case SessionChat:
		m.handleChat(gen, e)
	case SessionPlayers:
		m.handlePlayers(gen, e.Players)
	case SessionUpdate:
		if e.Gamemode != "" {
			m.emitIfCurrent(gen, GamemodeChanged{Value: e.Gamemode})
		}
	case SessionDisconnect:
		m.handleDisconnect(gen, log, e.Reason)
	}
}

func (m *Manager) emitIfCurrent(gen uint64, ev Event) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.emitLocked(ev)
	m.mu.Unlock()
	m.deliver()
}

func (m *Manager) handleChat(gen uint64, chat SessionChat) {
	text := strings.TrimSpace(blankLines.ReplaceAllString(chat.Raw, "\n"))
	if text == "" {
		return
	}
	var ev *ChatEvent
	if chat.FromLog {
		ev = m.parser.ParseLogLine(text)
	} else {
		ev = m.parser.Parse(text)
	}
	if ev == nil {
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.emitLocked(ChatReceived{Event: *ev})
	before := m.players.Count()
	switch ev.Kind {
	case KindJoin:
		m.players.Increment(ev.DisplayName)
	case KindLeave:
		m.players.Decrement(ev.DisplayName)
	}
	if m.players.Count() != before {
		m.emitLocked(PlayersUpdated{Players: m.players.View(m.hidden)})
	}
	m.mu.Unlock()
	m.deliver()
}

func (m *Manager) handlePlayers(gen uint64, players []SessionPlayer) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.players.Reset()
	for _, p := range players {
		m.players.Increment(normalizeName(p.Name))
	}
	m.emitLocked(PlayersUpdated{Players: m.players.View(m.hidden)})
	m.mu.Unlock()
	m.deliver()
}

func (m *Manager) handleDisconnect(gen uint64, log zerolog.Logger, reason string) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	log.Warn().Str("reason", reason).Msg("Game server closed the session")
	sess, detach := m.session, m.detach
	m.session, m.detach = nil, nil
	m.players.Reset()
	m.emitLocked(Disconnected{Reason: ReasonServer})
	switch {
	case m.stopRequested:
		m.state = StateStopped
	case m.cfg.Reconnect.Enabled:
		m.state = StateConnecting
		m.scheduleLocked()
	default:
		m.state = StateStopped
	}
	m.mu.Unlock()

	detach()
	if err := sess.Close(false); err != nil {
		log.Debug().Err(err).Msg("Error closing dropped session")
	}
	m.deliver()
}

func (m *Manager) emitLocked(ev Event) {
	m.pending = append(m.pending, ev)
}

// deliver drains the event queue unless another goroutine is already doing so,
// in which case that goroutine picks up whatever was queued.
func (m *Manager) deliver() {
	m.mu.Lock()
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.pending) > 0 {
		events := m.pending
		m.pending = nil
		listeners := m.listeners
		m.mu.Unlock()
		for _, ev := range events {
			for _, l := range listeners {
				m.notify(l, ev)
			}
		}
		m.mu.Lock()
	}
	m.delivering = false
	m.mu.Unlock()
}

func (m *Manager) notify(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msgf("Listener panicked handling %T", ev)
		}
	}()
	l.OnEvent(ev)
}
