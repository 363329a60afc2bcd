// Package textutil formats things for a terminal.
package textutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// OneLine collapses every run of whitespace, newlines included, to a single
// space.
func OneLine(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

// Truncate shortens s to at most n runes, ending in "..." if anything was
// cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return strings.Repeat(".", n)
	}
	runes := []rune(s)
	return strings.TrimRightFunc(string(runes[:n-3]), func(r rune) bool { return r == ' ' }) + "..."
}

// Plural is "1 like", "2 likes".  plural may be empty to mean singular+"s".
func Plural(n int, singular, plural string) string {
	if n == 1 {
		return "1 " + singular
	}
	if plural == "" {
		plural = singular + "s"
	}
	return strconv.Itoa(n) + " " + plural
}

// Ago is how long before now t was, in the style of a feed: "just now",
// "5m", "3h", "2d", then a date.  Times in the future are "just now".
func Ago(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
	if t.Year() == now.Year() {
		return t.Format("Jan 2")
	}
	return t.Format("Jan 2, 2006")
}

// Indent prefixes every line of s.
func Indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

// JoinInts concatenates the elements of an int64 slice with a separator.
func JoinInts(elems []int64, sep string) string {
	strs := make([]string, len(elems))
	for i, v := range elems {
		strs[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(strs, sep)
}
