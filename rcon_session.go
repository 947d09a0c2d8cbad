package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	maxChatRunes        = 200
	defaultChatCommand  = "say {message}"
	defaultListCommand  = "list"
	defaultPollInterval = 5 * time.Second
)

type RCONSessionConfig struct {
	PollInterval    time.Duration
	ChatCommand     string // "{message}" is replaced with the escaped text
	ListCommand     string
	GamemodeCommand string // optional
	LeaveMessage    string // sent on Close(true) when set
}

// RCONSession is a Session backed by an RCON console. Player lists and gamemode
// are polled; chat arrives through an optional LogTailer.
type RCONSession struct {
	rcon   commandRunner
	cfg    RCONSessionConfig
	tailer *LogTailer
	log    zerolog.Logger

	sessionEmitter

	mu       sync.Mutex
	cancel   context.CancelFunc
	dropped  bool
	gamemode string
}

func NewRCONSession(rcon commandRunner, cfg RCONSessionConfig, tailer *LogTailer, log zerolog.Logger) *RCONSession {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ChatCommand == "" {
		cfg.ChatCommand = defaultChatCommand
	}
	if cfg.ListCommand == "" {
		cfg.ListCommand = defaultListCommand
	}
	return &RCONSession{
		rcon:   rcon,
		cfg:    cfg,
		tailer: tailer,
		log:    log.With().Str("component", "rcon").Logger(),
	}
}

// Start probes the console with the player-list command and starts polling.
func (s *RCONSession) Start(ctx context.Context) error {
	resp, err := s.execute(ctx, s.cfg.ListCommand)
	if err != nil {
		return fmt.Errorf("rcon probe: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.emit(SessionConnected{})
	s.emit(SessionPlayers{Players: parsePlayerList(resp)})
	s.pollGamemode(runCtx)

	go s.pollLoop(runCtx)
	if s.tailer != nil {
		go s.tailer.Run(runCtx, func(line string) {
			s.emit(SessionChat{Raw: line, FromLog: true})
		})
	}
	return nil
}

func (s *RCONSession) Close(notify bool) error {
	if notify && s.cfg.LeaveMessage != "" {
		ctx, cancel := context.WithTimeout(context.Background(), rconTimeout)
		if err := s.SendChat(ctx, s.cfg.LeaveMessage); err != nil {
			s.log.Debug().Err(err).Msg("Failed to send leave message")
		}
		cancel()
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.dropped = true
	s.mu.Unlock()
	return s.rcon.Close()
}

func (s *RCONSession) SendChat(ctx context.Context, text string) error {
	cmd := strings.ReplaceAll(s.cfg.ChatCommand, "{message}", escapeChat(text))
	if _, err := s.execute(ctx, cmd); err != nil {
		return fmt.Errorf("rcon send chat: %w", err)
	}
	return nil
}

func escapeChat(text string) string {
	safe := strings.ReplaceAll(text, `\`, `\\`)
	safe = strings.ReplaceAll(safe, `"`, `\"`)
	safe = strings.ReplaceAll(safe, "\r", "")
	safe = strings.ReplaceAll(safe, "\n", " ")
	if utf8.RuneCountInString(safe) > maxChatRunes {
		safe = string([]rune(safe)[:maxChatRunes]) + "..."
	}
	return safe
}

// execute runs cmd without letting a hung console outlive ctx.
func (s *RCONSession) execute(ctx context.Context, cmd string) (string, error) {
	type result struct {
		resp string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.rcon.Execute(cmd)
		done <- result{resp, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.resp, r.err
	}
}

func (s *RCONSession) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := s.execute(ctx, s.cfg.ListCommand)
			if err != nil {
				if ctx.Err() == nil {
					s.drop(err.Error())
				}
				return
			}
			s.emit(SessionPlayers{Players: parsePlayerList(resp)})
			s.pollGamemode(ctx)
		}
	}
}

func (s *RCONSession) pollGamemode(ctx context.Context) {
	if s.cfg.GamemodeCommand == "" {
		return
	}
	resp, err := s.execute(ctx, s.cfg.GamemodeCommand)
	if err != nil {
		s.log.Debug().Err(err).Msg("Gamemode poll failed")
		return
	}
	mode := strings.TrimSpace(resp)
	s.mu.Lock()
	changed := mode != "" && mode != s.gamemode
	s.gamemode = mode
	s.mu.Unlock()
	if changed {
		s.emit(SessionUpdate{Gamemode: mode})
	}
}

// drop reports the disconnect once and stops the session's loops.
func (s *RCONSession) drop(reason string) {
	s.mu.Lock()
	if s.dropped {
		s.mu.Unlock()
		return
	}
	s.dropped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.emit(SessionDisconnect{Reason: reason})
}

// parsePlayerList understands the two common console formats:
//
//	There are 2 of a max of 20 players online: Alice, Bob
//	Online players (2):
//	  Alice (online)
//	  Bob (online)
func parsePlayerList(resp string) []SessionPlayer {
	lines := strings.Split(strings.TrimSpace(strings.ReplaceAll(resp, "\r\n", "\n")), "\n")
	var names []string
	if len(lines) == 1 {
		idx := strings.LastIndex(lines[0], ":")
		if idx < 0 {
			return nil
		}
		names = strings.Split(lines[0][idx+1:], ",")
	} else {
		names = lines[1:]
	}

	players := make([]SessionPlayer, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "(online)"))
		if n != "" {
			players = append(players, SessionPlayer{Name: n})
		}
	}
	return players
}
