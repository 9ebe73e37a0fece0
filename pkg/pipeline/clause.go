package pipeline

import (
	"regexp"
	"strings"
)

// clauseBoundary matches the first clause-ending punctuation mark
// followed by whitespace: `.`, `!`, `?`, or `,` then a space/tab/newline.
var clauseBoundary = regexp.MustCompile(`[.!?,][ \t\n]`)

// nextClause looks for the earliest clause boundary in buf. If found, it
// returns the prefix up to and including the punctuation and the
// following whitespace character, the remaining buffer, and true.
// Otherwise it returns ("", buf, false) unchanged.
func nextClause(buf string) (clause, rest string, found bool) {
	loc := clauseBoundary.FindStringIndex(buf)
	if loc == nil {
		return "", buf, false
	}
	return buf[:loc[1]], buf[loc[1]:], true
}

// tokenCount returns the number of whitespace-separated tokens in s.
func tokenCount(s string) int {
	return len(strings.Fields(s))
}

// drainClauses repeatedly extracts clauses from buf, calling emit for each
// one whose token count exceeds minTokens (spec.md §4.4 step 7: "more than
// 3 whitespace-separated tokens"). Clauses at or below the threshold are
// dropped from the buffer without being emitted. Returns the remainder.
func drainClauses(buf string, minTokens int, emit func(clause string)) string {
	for {
		clause, rest, found := nextClause(buf)
		if !found {
			return buf
		}
		buf = rest
		if tokenCount(clause) > minTokens {
			emit(clause)
		}
	}
}
