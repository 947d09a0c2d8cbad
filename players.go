package main

import (
	"sort"
	"strings"
)

// PlayerSet tracks online players by case-folded name. It is not safe for
// concurrent use; the Manager guards it with its own lock.
type PlayerSet struct {
	// folded key -> first-seen spelling
	names map[string]string
}

func NewPlayerSet() *PlayerSet {
	return &PlayerSet{names: make(map[string]string)}
}

func playerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Increment adds a player and returns the new count. Adding a present name is a no-op.
func (s *PlayerSet) Increment(name string) int {
	key := playerKey(name)
	if key == "" {
		return len(s.names)
	}
	if _, ok := s.names[key]; !ok {
		s.names[key] = strings.TrimSpace(name)
	}
	return len(s.names)
}

// Decrement removes a player and returns the new count. Unknown names are ignored.
func (s *PlayerSet) Decrement(name string) int {
	delete(s.names, playerKey(name))
	return len(s.names)
}

func (s *PlayerSet) Reset() {
	s.names = make(map[string]string)
}

func (s *PlayerSet) Count() int {
	return len(s.names)
}

// Players returns a sorted copy of the tracked names.
func (s *PlayerSet) Players() []string {
	return s.View(nil)
}

// View returns a sorted copy of the tracked names whose folded key is not in exclude.
// The underlying set is left untouched.
func (s *PlayerSet) View(exclude map[string]bool) []string {
	out := make([]string, 0, len(s.names))
	for key, name := range s.names {
		if exclude[key] {
			continue
		}
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}
