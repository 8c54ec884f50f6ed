// Package expect drives prompt-oriented child processes: it buffers their
// output, matches ordered pattern lists against it, and writes replies.
//
// Timeouts and end-of-stream are ordinary results, not errors, so callers can
// express an interaction as a flat state machine over Result.Kind.
package expect

import (
	"fmt"
	"regexp"
	"strings"
)

// ansiEscapeRegex matches complete escape sequences: CSI with any
// parameter and intermediate bytes, OSC ended by BEL or ST, and the short
// forms such as charset designators ("\x1b(B"), keypad modes ("\x1b=") and
// cursor save ("\x1b7").
var ansiEscapeRegex = regexp.MustCompile(
	`\x1b\[[0-?]*[ -/]*[@-~]` +
		`|\x1b\][^\a\x1b]*(?:\a|\x1b\\)` +
		`|\x1b[ -/]*[0-Z\\^-~]`)

// StripANSI removes ANSI escape sequences from a string.
func StripANSI(s string) string {
	return ansiEscapeRegex.ReplaceAllString(s, "")
}

// unfinishedEscape reports whether b, which starts with ESC, is a proper
// prefix of an escape sequence that more output could complete.
func unfinishedEscape(b []byte) bool {
	if len(b) < 2 {
		return true
	}
	switch b[1] {
	case '[':
		for _, c := range b[2:] {
			if c < 0x20 || c > 0x3f {
				return false
			}
		}
		return true
	case ']':
		for j, c := range b[2:] {
			switch c {
			case '\a':
				return false
			case 0x1b:
				return j == len(b)-3
			}
		}
		return true
	default:
		for _, c := range b[1:] {
			if c < 0x20 || c > 0x2f {
				return false
			}
		}
		return true
	}
}

type patternKind int

const (
	kindText patternKind = iota
	kindTimeout
	kindEOF
)

// Pattern is one entry of an ordered expect list: a literal, a regular
// expression, or one of the Timeout / EOF sentinels.
type Pattern struct {
	kind    patternKind
	literal string
	re      *regexp.Regexp
	// Description explains what this pattern matches (for logs)
	Description string
}

var (
	// Timeout is the sentinel for "no pattern matched before the deadline".
	Timeout = Pattern{kind: kindTimeout, Description: "TIMEOUT"}
	// EOF is the sentinel for "the child closed its output".
	EOF = Pattern{kind: kindEOF, Description: "EOF"}
)

// Literal matches s as a plain substring.
func Literal(s string) Pattern {
	return Pattern{kind: kindText, literal: s, Description: fmt.Sprintf("%q", s)}
}

// Regexp matches re anywhere in the buffer.
func Regexp(re *regexp.Regexp) Pattern {
	return Pattern{kind: kindText, re: re, Description: re.String()}
}

// Compile builds a regexp pattern, reporting syntax errors.
func Compile(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compiling pattern %q: %w", expr, err)
	}
	return Regexp(re), nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) Pattern {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Named returns a copy of p with a human-readable description.
func (p Pattern) Named(desc string) Pattern {
	p.Description = desc
	return p
}

// IsTimeout reports whether p is the Timeout sentinel.
func (p Pattern) IsTimeout() bool { return p.kind == kindTimeout }

// IsEOF reports whether p is the EOF sentinel.
func (p Pattern) IsEOF() bool { return p.kind == kindEOF }

// String returns the description.
func (p Pattern) String() string { return p.Description }

// find returns the bounds of p in s, or -1.
func (p Pattern) find(s string) (int, int) {
	switch {
	case p.kind != kindText:
		return -1, -1
	case p.re != nil:
		loc := p.re.FindStringIndex(s)
		if loc == nil {
			return -1, -1
		}
		return loc[0], loc[1]
	default:
		i := strings.Index(s, p.literal)
		if i < 0 {
			return -1, -1
		}
		return i, i + len(p.literal)
	}
}

// Match evaluates patterns in list order against buf and reports the first
// text pattern that matches anywhere, with its byte bounds. Sentinels never
// match text. It returns index -1 when nothing matches.
func Match(buf string, patterns []Pattern) (index, start, end int) {
	for i, p := range patterns {
		if s, e := p.find(buf); s >= 0 {
			return i, s, e
		}
	}
	return -1, -1, -1
}

// sentinelIndex returns the position of the first pattern of the given kind
// in patterns, or -1 when the caller did not list it.
func sentinelIndex(patterns []Pattern, kind patternKind) int {
	for i, p := range patterns {
		if p.kind == kind {
			return i
		}
	}
	return -1
}
