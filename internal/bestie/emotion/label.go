// Package emotion maps a user message to an emotion label by asking the
// completion service a fixed single-turn question.
package emotion

import "strings"

// Known vocabulary labels. The classifier is asked to answer with one of
// these, but its output is an open string and is not coerced.
const (
	Triste     = "triste"
	Ansioso    = "ansioso"
	Arrabbiato = "arrabbiato"
	Stanco     = "stanco"
	Felice     = "felice"
	Solo       = "solo"
	Confuso    = "confuso"
	Paura      = "paura"
	Stressato  = "stressato"
	Neutro     = "neutro"
)

// Critico is the sentinel label attached to safety short-circuit replies.
// The classifier never produces it.
const Critico = "critico"

// Vocabulary is the closed list of labels offered to the classifier, in the
// order they appear in the prompt.
var Vocabulary = []string{
	Triste, Ansioso, Arrabbiato, Stanco, Felice,
	Solo, Confuso, Paura, Stressato, Neutro,
}

var known = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Vocabulary))
	for _, l := range Vocabulary {
		m[l] = struct{}{}
	}
	return m
}()

// Known reports whether label is part of the closed vocabulary.
func Known(label string) bool {
	_, ok := known[label]
	return ok
}

// Normalize trims surrounding whitespace and lower-cases label.
func Normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
