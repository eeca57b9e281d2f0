// Package safety implements the self-harm gate that runs before any model
// call or state mutation.
//
// The gate is a case-insensitive substring match against a fixed denylist of
// phrases. False positives are accepted; there is no escalation path beyond
// the fixed crisis reply returned by the caller.
package safety

import "strings"

// DefaultPhrases is the built-in Italian denylist.
var DefaultPhrases = []string{
	"suicidio",
	"uccidermi",
	"ammazzarmi",
	"farmi del male",
	"non voglio vivere",
	"morire",
	"togliermi la vita",
}

// Screener flags messages that contain a denylisted phrase.
// It is immutable after construction and safe for concurrent use.
type Screener struct {
	phrases []string // lower-cased, non-empty
}

// New returns a Screener for the given phrases. Phrases are lower-cased and
// trimmed; empty entries are dropped.
func New(phrases []string) *Screener {
	s := &Screener{phrases: make([]string, 0, len(phrases))}
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		s.phrases = append(s.phrases, p)
	}
	return s
}

// Screen reports whether text contains any denylisted phrase.
func (s *Screener) Screen(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range s.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Phrases returns a copy of the normalised denylist.
func (s *Screener) Phrases() []string {
	out := make([]string, len(s.phrases))
	copy(out, s.phrases)
	return out
}
