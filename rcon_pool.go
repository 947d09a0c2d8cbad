package main

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorcon/rcon"
)

const (
	rconTimeout       = 10 * time.Second
	rconMaxCommandLen = 4096
)

var errPoolClosed = errors.New("rcon pool closed")

// commandRunner executes console commands on the game server.
type commandRunner interface {
	Execute(cmd string) (string, error)
	Close() error
}

// RCONPool serializes commands over one lazily dialed RCON connection. A
// command that fails on a stale connection is retried once on a fresh dial.
type RCONPool struct {
	addr     string
	password string

	mu     sync.Mutex
	conn   *rcon.Conn
	closed bool
}

func NewRCONPool(host, port, password string) *RCONPool {
	return &RCONPool{
		addr:     net.JoinHostPort(host, port),
		password: password,
	}
}

func (p *RCONPool) Execute(cmd string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", errPoolClosed
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if p.conn == nil {
			conn, err := rcon.Dial(p.addr, p.password,
				rcon.SetMaxCommandLen(rconMaxCommandLen),
				rcon.SetDialTimeout(rconTimeout),
				rcon.SetDeadline(rconTimeout),
			)
			if err != nil {
				return "", fmt.Errorf("rcon dial %s: %w", p.addr, err)
			}
			p.conn = conn
		}
		resp, err := p.conn.Execute(cmd)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		p.conn.Close()
		p.conn = nil
	}
	return "", fmt.Errorf("rcon execute: %w", lastErr)
}

// Close drops the connection. Later commands fail with errPoolClosed.
func (p *RCONPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
