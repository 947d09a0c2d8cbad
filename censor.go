package main

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Censor masks configured words, case-insensitively, with asterisks.
type Censor struct {
	pattern *regexp.Regexp
}

// NewCensor returns nil when there is nothing to censor; a nil Censor passes text through.
func NewCensor(words []string) *Censor {
	var quoted []string
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	// longest first so overlapping words mask fully
	sort.Slice(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return &Censor{pattern: regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)}
}

func (c *Censor) Apply(text string) string {
	if c == nil {
		return text
	}
	return c.pattern.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Repeat("*", utf8.RuneCountInString(m))
	})
}
