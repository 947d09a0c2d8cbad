package main

import (
	"regexp"
	"strings"
)

var (
	// §#RRGGBB or #RRGGBB
	colorCodePattern   = regexp.MustCompile(`§?#[0-9A-Fa-f]{6}`)
	// one colour code per visible character, e.g. §#FF0000A§#00FF00l...
	colorCharPattern   = regexp.MustCompile(`§?#[0-9A-Fa-f]{6}(.)`)
	// leading or trailing runs of markdown-style wrapping, e.g. **[Admin]**
	wrappingDecoration = regexp.MustCompile(`^[*_~\[\]]+|[*_~\[\]]+$`)
	disallowedChars    = regexp.MustCompile(`[^\p{L}\p{M}\p{Nd}_\- ]`)
)

// normalizeName strips colour markup and decoration from a raw display name.
// It is total: malformed input yields an empty or partially stripped name.
func normalizeName(raw string) string {
	if name, ok := perCharacterColors(raw); ok {
		return cleanName(name)
	}
	s := colorCodePattern.ReplaceAllString(raw, "")
	s = wrappingDecoration.ReplaceAllString(strings.TrimSpace(s), "")
	return cleanName(s)
}

func cleanName(s string) string {
	return strings.TrimSpace(disallowedChars.ReplaceAllString(s, ""))
}

// perCharacterColors reassembles names where every character carries its own colour
// code. It only matches when the codes cover the whole name, apart from a trailing
// reset code and surrounding whitespace.
func perCharacterColors(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	matches := colorCharPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) < 2 || matches[0][0] != 0 {
		return "", false
	}

	var b strings.Builder
	end := 0
	for _, m := range matches {
		if m[0] != end {
			return "", false
		}
		b.WriteString(s[m[2]:m[3]])
		end = m[1]
	}
	if rest := colorCodePattern.ReplaceAllString(s[end:], ""); strings.TrimSpace(rest) != "" {
		return "", false
	}
	return b.String(), true
}
