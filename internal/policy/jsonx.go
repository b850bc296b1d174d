package policy

import (
	"encoding/json"
	"strings"
)

// ExtractJSONArray recovers a JSON array embedded in free-form model output.
// Fenced code blocks are preferred; otherwise the text is scanned with a
// byte-level state machine that tracks bracket depth and quoted-string
// boundaries. A bracket-matched span that fails to parse as JSON causes the
// scan to resume from the next '[', because reasoning-style responses often
// emit a truncated array before the real one.
//
// It is safe to iterate bytes for ASCII delimiters ([, ], ", \) because UTF-8
// guarantees ASCII bytes never appear inside a multi-byte sequence.
func ExtractJSONArray(text string) (string, bool) {
	for _, block := range fencedBlocks(text) {
		if arr, ok := scanArray(block); ok {
			return arr, true
		}
	}
	return scanArray(text)
}

// fencedBlocks returns the contents of ``` fenced code blocks, in order.
func fencedBlocks(text string) []string {
	var blocks []string
	rest := text
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			return blocks
		}
		rest = rest[open+3:]
		// Skip an optional language tag on the fence line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			first := strings.TrimSpace(rest[:nl])
			if first != "" && !strings.ContainsAny(first, "[]{}") {
				rest = rest[nl+1:]
			}
		}
		closing := strings.Index(rest, "```")
		if closing < 0 {
			return blocks
		}
		blocks = append(blocks, rest[:closing])
		rest = rest[closing+3:]
	}
}

// scanArray finds the first span that is both bracket-balanced and valid
// JSON, retrying from the next '[' after a failed candidate.
func scanArray(s string) (string, bool) {
	start := 0
	for start < len(s) {
		open := strings.IndexByte(s[start:], '[')
		if open < 0 {
			return "", false
		}
		open += start

		span, ok := matchArray(s, open)
		if ok && json.Valid([]byte(span)) {
			return span, true
		}
		start = open + 1
	}
	return "", false
}

// matchArray returns the span from s[start] (which must be '[') to its
// matching ']', respecting strings and escapes. Returns false if the bracket
// never closes.
func matchArray(s string, start int) (string, bool) {
	var depth int
	var inString, escape bool

	for i := start; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
