package main

import "context"

// Status is the online/offline state pushed to integrations.
type Status struct {
	Online   bool
	Reason   string // "connected" when online, a DisconnectReason when offline
	Attempts int    // set with retries-exhausted
}

// Integration is a downstream target for relayed events (Discord, telemetry,
// server-list advertisers, live feeds). Each implementation does its own
// external delivery; the Bridge isolates failures between them.
type Integration interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	UpdatePlayers(ctx context.Context, players []string) error
	UpdateStatus(ctx context.Context, status Status) error
	UpdateGamemode(ctx context.Context, gamemode string) error
	HandleChat(ctx context.Context, event ChatEvent) error
	SendMessage(ctx context.Context, text string) error
}

// nopIntegration supplies no-op methods for integrations that only care about
// some of the Integration surface.
type nopIntegration struct{}

func (nopIntegration) Start(context.Context) error                   { return nil }
func (nopIntegration) Stop(context.Context) error                    { return nil }
func (nopIntegration) UpdatePlayers(context.Context, []string) error { return nil }
func (nopIntegration) UpdateStatus(context.Context, Status) error    { return nil }
func (nopIntegration) UpdateGamemode(context.Context, string) error  { return nil }
func (nopIntegration) HandleChat(context.Context, ChatEvent) error   { return nil }
func (nopIntegration) SendMessage(context.Context, string) error     { return nil }
