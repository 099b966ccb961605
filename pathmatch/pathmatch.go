// Package pathmatch implements the single-segment glob grammar used to
// match sparse path patterns against tree entry names: literal
// characters match themselves, "*" matches a run of zero or more
// non-"/" characters, nothing else is special.
package pathmatch

import (
	"path"
	"strings"
)

// Match reports whether name matches pattern, one path segment at a
// time. Both pattern and name must already be a single segment (no
// "/"): the caller is responsible for splitting a slash-separated
// pattern and walking the tree one segment at a time, since a "*"
// never crosses a "/" boundary.
//
// The only wildcard in this grammar is "*"; "?", "[", and "]" are
// plain literal characters, matching spec.md §4.5's restricted
// grammar ("no character classes, no ?, no **"). stdlib path.Match
// gives "?" and "[...]"/"[^...]" wildcard meaning of its own, so
// pattern is escaped before being handed to it, keeping "*" as the
// only live wildcard. name needs no escaping: path.Match only ever
// interprets metacharacters on the pattern side, matching name
// literally rune by rune regardless of what it contains.
//
// A malformed pattern (Match returns ErrBadPattern) is treated as
// "matches nothing" rather than propagated, since a sparse pattern is
// user input and a bad glob should behave like an absent match, not a
// fatal error; escaping makes this effectively unreachable in
// practice, but it's kept as a defensive fallback.
func Match(pattern, name string) bool {
	ok, err := path.Match(escapeGlob(pattern), name)
	if err != nil {
		return false
	}
	return ok
}

// globMetachars are the runes path.Match treats specially.
const globMetachars = `*?[]\`

// escapeGlob escapes every path.Match metacharacter in s except "*",
// the one wildcard this grammar actually keeps.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r != '*' && strings.ContainsRune(globMetachars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
