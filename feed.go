package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	feedClientBuffer = 64
	feedWriteTimeout = 10 * time.Second
)

type feedMessage struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

type feedChat struct {
	Kind       Kind              `json:"kind"`
	Player     string            `json:"player"`
	Text       string            `json:"text,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type feedStatus struct {
	Online   bool   `json:"online"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts,omitempty"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *feedClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// FeedSink serves a websocket feed of relay events plus small JSON endpoints.
type FeedSink struct {
	addr     string
	origins  []string
	upgrader websocket.Upgrader
	log      zerolog.Logger
	server   *http.Server

	mu       sync.RWMutex
	clients  map[*feedClient]bool
	players  []string
	status   feedStatus
	gamemode string
}

func NewFeedSink(addr string, allowedOrigins []string, log zerolog.Logger) *FeedSink {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	f := &FeedSink{
		addr:    addr,
		origins: allowedOrigins,
		log:     log.With().Str("component", "feed").Logger(),
		clients: make(map[*feedClient]bool),
		players: []string{},
	}
	f.upgrader.CheckOrigin = f.checkOrigin
	return f
}

// checkOrigin applies allowed_origins to the websocket handshake, which the
// CORS middleware does not block. Requests without an Origin header come from
// non-browser clients and are accepted.
func (f *FeedSink) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range f.origins {
		if originMatches(allowed, origin) {
			return true
		}
	}
	f.log.Debug().Str("origin", origin).Msg("Rejected websocket origin")
	return false
}

// originMatches compares case-insensitively; a single * matches any run of
// characters, as in https://*.example.com.
func originMatches(pattern, origin string) bool {
	pattern, origin = strings.ToLower(pattern), strings.ToLower(origin)
	prefix, suffix, wild := strings.Cut(pattern, "*")
	if !wild {
		return pattern == origin
	}
	return len(origin) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix)
}

func (f *FeedSink) Name() string { return "Feed" }

func (f *FeedSink) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: f.origins,
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/players", f.handlePlayers)
	r.Get("/ws", f.handleWS)
	return r
}

func (f *FeedSink) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", f.addr)
	if err != nil {
		return err
	}
	f.server = &http.Server{Handler: f.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := f.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.log.Error().Err(err).Msg("Feed server stopped")
		}
	}()
	f.log.Info().Str("addr", ln.Addr().String()).Msg("Feed listening")
	return nil
}

func (f *FeedSink) Stop(ctx context.Context) error {
	f.mu.Lock()
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
	f.mu.Unlock()
	if f.server == nil {
		return nil
	}
	return f.server.Shutdown(ctx)
}

func (f *FeedSink) UpdatePlayers(_ context.Context, players []string) error {
	f.mu.Lock()
	f.players = append([]string{}, players...)
	f.mu.Unlock()
	f.broadcast("players", players)
	return nil
}

func (f *FeedSink) UpdateStatus(_ context.Context, status Status) error {
	st := feedStatus{Online: status.Online, Reason: status.Reason, Attempts: status.Attempts}
	f.mu.Lock()
	f.status = st
	f.mu.Unlock()
	f.broadcast("status", st)
	return nil
}

func (f *FeedSink) UpdateGamemode(_ context.Context, gamemode string) error {
	f.mu.Lock()
	f.gamemode = gamemode
	f.mu.Unlock()
	f.broadcast("gamemode", gamemode)
	return nil
}

func (f *FeedSink) HandleChat(_ context.Context, event ChatEvent) error {
	f.broadcast("chat", feedChat{
		Kind:       event.Kind,
		Player:     event.DisplayName,
		Text:       event.Text,
		OccurredAt: event.OccurredAt,
		Attributes: event.Attributes,
	})
	return nil
}

func (f *FeedSink) SendMessage(_ context.Context, text string) error {
	f.broadcast("message", text)
	return nil
}

func encodeFeed(typ string, payload any) ([]byte, error) {
	return json.Marshal(feedMessage{ID: uuid.NewString(), Type: typ, Time: time.Now().UTC(), Payload: payload})
}

// broadcast drops any client whose buffer is full rather than waiting on it.
func (f *FeedSink) broadcast(typ string, payload any) {
	data, err := encodeFeed(typ, payload)
	if err != nil {
		f.log.Warn().Err(err).Str("type", typ).Msg("Failed to encode feed message")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			delete(f.clients, c)
			close(c.send)
		}
	}
}

func (f *FeedSink) handlePlayers(w http.ResponseWriter, r *http.Request) {
	f.mu.RLock()
	body := struct {
		Online   bool     `json:"online"`
		Players  []string `json:"players"`
		Count    int      `json:"count"`
		Gamemode string   `json:"gamemode,omitempty"`
	}{f.status.Online, f.players, len(f.players), f.gamemode}
	data, err := json.Marshal(body)
	f.mu.RUnlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (f *FeedSink) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	c := &feedClient{conn: conn, send: make(chan []byte, feedClientBuffer)}

	f.mu.Lock()
	status, _ := encodeFeed("status", f.status)
	players, _ := encodeFeed("players", f.players)
	c.send <- status
	c.send <- players
	f.clients[c] = true
	f.mu.Unlock()

	go c.writePump()

	// Inbound frames are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.mu.Lock()
	if f.clients[c] {
		delete(f.clients, c)
		close(c.send)
	}
	f.mu.Unlock()
}
