package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimQuotes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"no quotes", "hello", "hello"},
		{"double quoted", `"hello"`, "hello"},
		{"single quotes only", "'hello'", "'hello'"},
		{"quotes in middle", `he"llo`, `he"llo`},
		{"only quotes", `""`, ""},
		{"single quote char", `"`, `"`},
		{"unbalanced leading", `"hello`, `"hello`},
		{"one pair only", `""hi""`, `"hi"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TrimQuotes(tt.input)
			if result != tt.expected {
				t.Errorf("TrimQuotes(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFixEscapeQuotes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"no escaped quotes", "hello", "hello"},
		{"single escaped quote", `he""llo`, `he"llo`},
		{"multiple escaped quotes", `a""b""c`, `a"b"c`},
		{"consecutive escaped", `a""""b`, `a""b`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FixEscapeQuotes(tt.input)
			if result != tt.expected {
				t.Errorf("FixEscapeQuotes(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		name     string
		slice    []string
		str      string
		expected bool
	}{
		{"empty slice", []string{}, "a", false},
		{"found first", []string{"a", "b", "c"}, "a", true},
		{"found middle", []string{"a", "b", "c"}, "b", true},
		{"found last", []string{"a", "b", "c"}, "c", true},
		{"not found", []string{"a", "b", "c"}, "d", false},
		{"empty string in slice", []string{"a", "", "c"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Contains(tt.slice, tt.str)
			if result != tt.expected {
				t.Errorf("Contains(%v, %q) = %v, want %v", tt.slice, tt.str, result, tt.expected)
			}
		})
	}
}

func TestCleanArg(t *testing.T) {
	assert.Equal(t, `say "hi"`, CleanArg(` "say ""hi""" `))
	assert.Equal(t, `"quoted"`, CleanArg(`"""quoted"""`))
	assert.Equal(t, "plain", CleanArg("plain"))
}

func TestCleanArgs(t *testing.T) {
	args := []string{`"a"`, ` b `, `"c""d"`}
	assert.Equal(t, []string{"a", "b", `c"d`}, CleanArgs(args))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"front", "top"}, SplitList(" front, ,top,"))
	assert.Nil(t, SplitList(""))
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"true", "1", "yes", `"TRUE"`, "Y"} {
		assert.True(t, ParseBool(s), s)
	}
	for _, s := range []string{"false", "0", "no", "", "maybe"} {
		assert.False(t, ParseBool(s), s)
	}
}

func TestSplitFields(t *testing.T) {
	assert.Equal(t, []string{":LOG:", `"main"`, `"two words"`, "INFO"},
		SplitFields(`:LOG: "main"  "two words"	INFO`))
	assert.Nil(t, SplitFields("   "))
}
