package textutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOneLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "already one line", input: "hello there", expected: "hello there"},
		{name: "newlines", input: "hello\nthere\n", expected: "hello there"},
		{name: "tabs and runs", input: "  hello \t\t there  ", expected: "hello there"},
		{name: "empty", input: "", expected: ""},
		{name: "only space", input: " \n\t ", expected: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, OneLine(tc.input))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		n        int
		expected string
	}{
		{name: "short enough", input: "hello", n: 5, expected: "hello"},
		{name: "cut", input: "hello world", n: 8, expected: "hello..."},
		{name: "cut at a space", input: "hello world", n: 9, expected: "hello..."},
		{name: "tiny", input: "hello", n: 2, expected: ".."},
		{name: "zero", input: "hello", n: 0, expected: ""},
		{name: "runes not bytes", input: "héllo wörld", n: 8, expected: "héllo..."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Truncate(tc.input, tc.n))
		})
	}
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "0 likes", Plural(0, "like", ""))
	assert.Equal(t, "1 like", Plural(1, "like", ""))
	assert.Equal(t, "2 likes", Plural(2, "like", ""))
	assert.Equal(t, "3 replies", Plural(3, "reply", "replies"))
}

func TestAgo(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		then     time.Time
		expected string
	}{
		{now.Add(10 * time.Second), "just now"},
		{now.Add(-30 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m"},
		{now.Add(-3 * time.Hour), "3h"},
		{now.Add(-50 * time.Hour), "2d"},
		{time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), "Mar 1"},
		{time.Date(2024, 12, 31, 9, 0, 0, 0, time.UTC), "Dec 31, 2024"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, Ago(now, tc.then), "then %v", tc.then)
	}
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "  a\n  b", Indent("a\nb", "  "))
}

func TestJoinInts(t *testing.T) {
	assert.Equal(t, "1, 2, 3", JoinInts([]int64{1, 2, 3}, ", "))
	assert.Equal(t, "", JoinInts(nil, ","))
}
