package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// advertisement is the document pushed to a server-list directory.
type advertisement struct {
	Name     string   `json:"name"`
	Online   bool     `json:"online"`
	Reason   string   `json:"reason,omitempty"`
	Players  []string `json:"players"`
	Count    int      `json:"count"`
	Gamemode string   `json:"gamemode,omitempty"`
}

// AdvertiserSink keeps a third-party server list up to date with the server's
// status and players.
type AdvertiserSink struct {
	nopIntegration

	url    string
	client *http.Client

	mu    sync.Mutex
	state advertisement
}

func NewAdvertiserSink(url, name string, timeout time.Duration) *AdvertiserSink {
	return &AdvertiserSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		state:  advertisement{Name: name, Players: []string{}},
	}
}

func (a *AdvertiserSink) Name() string { return "Advertiser" }

func (a *AdvertiserSink) UpdatePlayers(ctx context.Context, players []string) error {
	return a.update(ctx, func(s *advertisement) {
		s.Players = append([]string{}, players...)
		s.Count = len(players)
	})
}

func (a *AdvertiserSink) UpdateStatus(ctx context.Context, status Status) error {
	return a.update(ctx, func(s *advertisement) {
		s.Online = status.Online
		s.Reason = status.Reason
		if !status.Online {
			s.Players = []string{}
			s.Count = 0
		}
	})
}

func (a *AdvertiserSink) UpdateGamemode(ctx context.Context, gamemode string) error {
	return a.update(ctx, func(s *advertisement) { s.Gamemode = gamemode })
}

func (a *AdvertiserSink) update(ctx context.Context, fn func(*advertisement)) error {
	a.mu.Lock()
	fn(&a.state)
	body, err := json.Marshal(a.state)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	return a.push(ctx, body)
}

func (a *AdvertiserSink) push(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("advertise: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("advertise: %s %s", resp.Status, string(msg))
	}
	return nil
}
