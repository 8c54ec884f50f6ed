package expect

// Kind classifies the outcome of an Expect call.
type Kind int

const (
	// KindMatch means a text pattern matched.
	KindMatch Kind = iota
	// KindTimeout means the per-call timeout elapsed first.
	KindTimeout
	// KindEOF means the child closed its output and nothing left in the
	// buffer matched.
	KindEOF
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindMatch:
		return "match"
	case KindTimeout:
		return "timeout"
	case KindEOF:
		return "eof"
	default:
		return "unknown"
	}
}

// Result is the outcome of Expect.
type Result struct {
	Kind Kind
	// Index is the position in the caller's pattern list of the pattern
	// that fired. For Timeout and EOF it is the position of the matching
	// sentinel, or -1 when the caller did not list it.
	Index int
	// Text is the matched text (empty for sentinels).
	Text string
	// Before is the output that preceded the match. On EOF it holds the
	// remaining unmatched output; on timeout, the pending buffer.
	Before string
}

// Matched reports whether a text pattern fired.
func (r Result) Matched() bool { return r.Kind == KindMatch }
