package main

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// Optional timestamp, optional [time] block, then one level/source tag such as
	// [Server thread/INFO]: or [Chat].
	logPrefixPattern = regexp.MustCompile(
		`^(?:\d{1,4}[./-]\d{1,2}[./-]\d{1,4}[ T]\d{1,2}:\d{2}(?::\d{2})?(?:[.,]\d+)?\s+)?` +
			`(?:\[\d{1,2}:\d{2}(?::\d{2})?\]\s*)?` +
			`\[(?:[\w .-]+/)?(?i:info|warn|warning|error|debug|notification|event|chat|audit|server)\]:?\s*`)

	chatPattern  = regexp.MustCompile(`(?s)^(?:\[([^\]\n]+)\]|<([^>\n]+)>)\s+(.+)$`)
	joinPattern  = regexp.MustCompile(`^(.+?) joined(?: the game)?(?: using version (\S+?))?\.?$`)
	leavePattern = regexp.MustCompile(`^(.+?) left(?: the game)?\.?$`)
	deathPattern = regexp.MustCompile(`(?s)^(.+?) (died\b.*)$`)
)

// Parser turns raw chat-stream lines into ChatEvents.
type Parser struct {
	// ExpectedVersion, when set, turns joins announcing a different client
	// version into version-mismatch events.
	ExpectedVersion string

	now func() time.Time
}

func NewParser(expectedVersion string) *Parser {
	return &Parser{ExpectedVersion: expectedVersion, now: time.Now}
}

// ParseLogLine strips a server log prefix before parsing.
func (p *Parser) ParseLogLine(line string) *ChatEvent {
	line = strings.TrimSpace(line)
	if loc := logPrefixPattern.FindStringIndex(line); loc != nil {
		line = line[loc[1]:]
	}
	return p.Parse(line)
}

// Parse returns nil when the line is not a recognised chat event.
func (p *Parser) Parse(line string) *ChatEvent {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if m := chatPattern.FindStringSubmatch(line); m != nil {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		return p.event(KindChat, name, strings.TrimSpace(m[3]), nil)
	}
	if m := joinPattern.FindStringSubmatch(line); m != nil {
		if m[2] == "" {
			return p.event(KindJoin, m[1], "", nil)
		}
		attrs := map[string]string{attrClientVersion: m[2]}
		if p.ExpectedVersion != "" && m[2] != p.ExpectedVersion {
			text := fmt.Sprintf("joined using version %s (server expects %s)", m[2], p.ExpectedVersion)
			return p.event(KindVersionMismatch, m[1], text, attrs)
		}
		return p.event(KindJoin, m[1], "", attrs)
	}
	if m := leavePattern.FindStringSubmatch(line); m != nil {
		return p.event(KindLeave, m[1], "", nil)
	}
	if m := deathPattern.FindStringSubmatch(line); m != nil {
		return p.event(KindDeath, m[1], strings.TrimSpace(m[2]), nil)
	}
	return nil
}

// event yields nil when the name normalizes to nothing so callers never see a
// nameless event.
func (p *Parser) event(kind Kind, rawName, text string, attrs map[string]string) *ChatEvent {
	name := normalizeName(rawName)
	if name == "" {
		return nil
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	return &ChatEvent{
		Kind:           kind,
		RawDisplayName: rawName,
		DisplayName:    name,
		Text:           text,
		OccurredAt:     now(),
		Attributes:     attrs,
	}
}
