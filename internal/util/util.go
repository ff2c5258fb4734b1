// Package util provides string helpers for bridge command arguments.
package util

import (
	"strconv"
	"strings"
)

// TrimQuotes removes one pair of surrounding double quotes. Strings not
// quoted on both ends are returned unchanged, so a trailing escaped quote
// survives for FixEscapeQuotes.
func TrimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// FixEscapeQuotes replaces escaped double quotes ("") with single double quotes (").
func FixEscapeQuotes(s string) string {
	return strings.ReplaceAll(s, `""`, `"`)
}

// CleanArg trims surrounding quotes and whitespace and unescapes inner quotes.
func CleanArg(s string) string {
	return FixEscapeQuotes(TrimQuotes(strings.TrimSpace(s)))
}

// CleanArgs applies CleanArg to every element in place and returns args.
func CleanArgs(args []string) []string {
	for i, a := range args {
		args[i] = CleanArg(a)
	}
	return args
}

// Contains reports whether str is in slice.
func Contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}

// SplitList splits a comma-separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseBool accepts true/false, 1/0 and yes/no. Anything else is false.
func ParseBool(s string) bool {
	switch strings.ToLower(CleanArg(s)) {
	case "yes", "y":
		return true
	}
	b, err := strconv.ParseBool(CleanArg(s))
	return err == nil && b
}

// SplitFields splits line on spaces and tabs, keeping double-quoted runs
// together. Quotes are kept in the returned fields.
func SplitFields(line string) []string {
	var (
		fields  []string
		cur     strings.Builder
		inQuote bool
	)
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case (r == ' ' || r == '\t') && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return fields
}
