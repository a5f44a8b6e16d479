// Package citation extracts the bracketed citation marker a generator is
// instructed to emit at the end of its response — either a list of
// memory indices (`[0, 2]`) or the `[NO_CITE]` sentinel — and maps it to
// the reward signal the reranker's REINFORCE update consumes.
package citation

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a parsed citation marker.
type Kind int

const (
	// Malformed means no usable marker was found, or its contents failed
	// validation; the turn contributes no gradient.
	Malformed Kind = iota
	// NoCite means the generator explicitly cited nothing.
	NoCite
	// Cited means one or more valid memory indices were cited.
	Cited
)

func (k Kind) String() string {
	switch k {
	case NoCite:
		return "no_cite"
	case Cited:
		return "cited"
	default:
		return "malformed"
	}
}

// Result is the outcome of parsing a generator response for citations.
type Result struct {
	Kind    Kind
	Indices []int // only meaningful when Kind == Cited
}

// bracketPattern captures the first bracket pair whose contents are a
// citation marker — digits, commas, and spaces, or the NO_CITE sentinel.
// Unrelated bracketed text earlier in the response does not match, so a
// marker after e.g. "[sic]" is still found.
var bracketPattern = regexp.MustCompile(`\[(\s*(?:[0-9][0-9,\s]*|NO_CITE)\s*)\]`)

// Parse finds the first citation marker in text and classifies it.
func Parse(text string) Result {
	m := bracketPattern.FindStringSubmatch(text)
	if m == nil {
		return Result{Kind: Malformed}
	}

	inner := strings.TrimSpace(m[1])
	if inner == "NO_CITE" {
		return Result{Kind: NoCite}
	}

	tokens := strings.Split(inner, ",")
	indices := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return Result{Kind: Malformed}
		}
		n, err := strconv.Atoi(tok)
		if err != nil || n < 0 {
			return Result{Kind: Malformed}
		}
		indices = append(indices, n)
	}
	if len(indices) == 0 {
		return Result{Kind: Malformed}
	}

	return Result{Kind: Cited, Indices: indices}
}

// Validate checks that a Cited result's indices are unique and fall within
// [0, topM). Any other Kind passes through unchanged. An invalid Cited
// result degrades to Malformed so the turn skips its RL update.
func Validate(r Result, topM int) Result {
	if r.Kind != Cited {
		return r
	}

	seen := make(map[int]bool, len(r.Indices))
	for _, idx := range r.Indices {
		if idx < 0 || idx >= topM || seen[idx] {
			return Result{Kind: Malformed}
		}
		seen[idx] = true
	}
	return r
}

// ParseAndValidate is the convenience entry point the reranker uses:
// parse the marker, then validate indices against topM in one call.
func ParseAndValidate(text string, topM int) Result {
	return Validate(Parse(text), topM)
}
