// Package sanitize normalizes whitespace in scraped corpus text before it
// is tokenized.
package sanitize

import (
	"regexp"
	"strings"
)

var extraWhiteSpace = regexp.MustCompile("[[:space:]]+")

// Text
// Cleans a block of text: drops `\r`, expands escaped `\n`, collapses runs
// of newlines, turns tabs into spaces, tightens ` :` to `:`, and collapses
// and trims whitespace on every line.
func Text(text string) string {
	acc := make([]rune, 0, len(text))
	lastRune := rune(0)
	for _, r := range text {
		idx := len(acc)
		if r == '\r' {
			// Silently drop Windows `\r`
		} else if r == '\n' && lastRune == '\n' {
			// Drop additional newlines.
		} else if r == 'n' && lastRune == '\\' {
			acc[idx-1] = '\n'
		} else if r == ':' && lastRune == ' ' {
			acc[idx-1] = ':'
		} else if r == '\t' {
			acc = append(acc, ' ')
		} else {
			acc = append(acc, r)
		}
		if len(acc) > 0 {
			lastRune = acc[len(acc)-1]
		}
	}
	lines := strings.Split(string(acc), "\n")
	for lineIdx := range lines {
		line := extraWhiteSpace.ReplaceAllString(lines[lineIdx], " ")
		lines[lineIdx] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

// Line
// Sanitizes a single input line. An escaped `\n` may split it, so the
// result can hold several lines; empty pieces are dropped. A line that is
// blank after cleaning comes back as one empty string so that callers
// still see the blank.
func Line(line string) []string {
	pieces := strings.Split(Text(line), "\n")
	lines := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		if piece != "" {
			lines = append(lines, piece)
		}
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
