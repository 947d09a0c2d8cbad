package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawFeedMessage struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFeed(t *testing.T, conn *websocket.Conn) rawFeedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg rawFeedMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.NotEmpty(t, msg.ID)
	return msg
}

func TestFeedSink_WebsocketSnapshotAndUpdates(t *testing.T) {
	f := NewFeedSink(":0", nil, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, f.UpdateStatus(ctx, Status{Online: true, Reason: "connected"}))
	require.NoError(t, f.UpdatePlayers(ctx, []string{"Alice"}))

	srv := httptest.NewServer(f.Router())
	defer srv.Close()
	conn := dialFeed(t, srv)

	status := readFeed(t, conn)
	assert.Equal(t, "status", status.Type)
	assert.JSONEq(t, `{"online":true,"reason":"connected"}`, string(status.Payload))

	players := readFeed(t, conn)
	assert.Equal(t, "players", players.Type)
	assert.JSONEq(t, `["Alice"]`, string(players.Payload))

	require.NoError(t, f.HandleChat(ctx, ChatEvent{
		Kind:        KindChat,
		DisplayName: "Alice",
		Text:        "hi",
		OccurredAt:  time.Date(2024, 3, 18, 12, 0, 0, 0, time.UTC),
	}))
	chat := readFeed(t, conn)
	assert.Equal(t, "chat", chat.Type)
	assert.JSONEq(t, `{"kind":"chat","player":"Alice","text":"hi","occurred_at":"2024-03-18T12:00:00Z"}`, string(chat.Payload))

	require.NoError(t, f.UpdateGamemode(ctx, "creative"))
	mode := readFeed(t, conn)
	assert.Equal(t, "gamemode", mode.Type)
	assert.JSONEq(t, `"creative"`, string(mode.Payload))

	require.NoError(t, f.SendMessage(ctx, "restart in 5 minutes"))
	assert.Equal(t, "message", readFeed(t, conn).Type)
}

func TestFeedSink_PlayersEndpoint(t *testing.T) {
	f := NewFeedSink(":0", nil, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, f.UpdateStatus(ctx, Status{Online: true, Reason: "connected"}))
	require.NoError(t, f.UpdatePlayers(ctx, []string{"Alice", "Bob"}))
	require.NoError(t, f.UpdateGamemode(ctx, "survival"))

	srv := httptest.NewServer(f.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/players")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		Online   bool     `json:"online"`
		Players  []string `json:"players"`
		Count    int      `json:"count"`
		Gamemode string   `json:"gamemode"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Online)
	assert.Equal(t, []string{"Alice", "Bob"}, body.Players)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "survival", body.Gamemode)
}

func TestFeedSink_Healthz(t *testing.T) {
	srv := httptest.NewServer(NewFeedSink(":0", nil, zerolog.Nop()).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFeedSink_StartStop(t *testing.T) {
	f := NewFeedSink("127.0.0.1:0", nil, zerolog.Nop())
	require.NoError(t, f.Start(context.Background()))
	require.NoError(t, f.Stop(context.Background()))
}

func TestFeedSink_WebsocketOrigins(t *testing.T) {
	f := NewFeedSink(":0", []string{"https://map.example.com", "https://*.example.org"}, zerolog.Nop())
	srv := httptest.NewServer(f.Router())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	tests := []struct {
		origin string
		ok     bool
	}{
		{"https://map.example.com", true},
		{"HTTPS://MAP.EXAMPLE.COM", true},
		{"https://live.example.org", true},
		{"https://evil.example.net", false},
		{"https://example.org", false},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if !tt.ok {
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			conn.Close()
		})
	}
}

func TestOriginMatches(t *testing.T) {
	assert.True(t, originMatches("*", "https://anything.test"))
	assert.True(t, originMatches("https://*.example.com", "https://a.b.example.com"))
	assert.False(t, originMatches("https://*.example.com", "http://a.example.com"))
	assert.False(t, originMatches("https://example.com", "https://example.com.evil"))
}
