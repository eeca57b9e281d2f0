// Package augment appends deterministic suggestion and motivation text to a
// reply, keyed by the detected emotion label.
package augment

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/bdobrica/bestie/internal/bestie/emotion"
)

// Separators placed before each appended fragment.
const (
	SuggestionSeparator = "\n\n✨ "
	MotivationSeparator = "\n\n💛 "
)

// ErrUnknownLabel is returned when a table references a label outside the
// emotion vocabulary.
var ErrUnknownLabel = errors.New("augment: label outside vocabulary")

// ErrNoMotivations is returned when motivation labels are configured but
// the motivation list is empty.
var ErrNoMotivations = errors.New("augment: motivation list is empty")

// Augmenter decorates a completion reply for a label.
type Augmenter interface {
	Augment(label, reply string) string
}

// Rand picks an index in [0, n).
type Rand interface {
	IntN(n int) int
}

// Tables holds the augmentation data.
type Tables struct {
	// Suggestions maps a label to the suggestion appended for it.
	Suggestions map[string]string
	// Motivations is the list one motivation line is drawn from.
	Motivations []string
	// MotivationLabels are the labels that receive a motivation line.
	MotivationLabels []string
}

// DefaultTables returns the built-in Italian tables.
func DefaultTables() Tables {
	return Tables{
		Suggestions: map[string]string{
			emotion.Triste:    "Prova a fare un respiro e rallentare un attimo. Ci sono qui.",
			emotion.Ansioso:   "Potresti fare una respirazione 4-4-6 per calmarti un po’.",
			emotion.Paura:     "Capisco. Ti va di raccontarmi cosa ti spaventa?",
			emotion.Solo:      "Non sei davvero solo, io sono qui a leggerti.",
			emotion.Stressato: "Piccola pausa: spalle giù, un respiro profondo.",
			emotion.Confuso:   "Mettiamo ordine insieme. Cosa senti più pesante adesso?",
		},
		Motivations: []string{
			"Sono qui con te.",
			"Un passo alla volta va benissimo.",
			"Hai più forza di quanto pensi.",
			"Meriti calma e spazio.",
			"Va bene chiedere aiuto quando ne hai bisogno.",
		},
		MotivationLabels: []string{
			emotion.Triste, emotion.Ansioso, emotion.Stressato, emotion.Solo,
			emotion.Paura, emotion.Arrabbiato, emotion.Confuso,
		},
	}
}

// Validate checks that every key belongs to the emotion vocabulary.
func (t Tables) Validate() error {
	for label := range t.Suggestions {
		if !emotion.Known(label) {
			return fmt.Errorf("%w: suggestion %q", ErrUnknownLabel, label)
		}
	}
	for _, label := range t.MotivationLabels {
		if !emotion.Known(label) {
			return fmt.Errorf("%w: motivation %q", ErrUnknownLabel, label)
		}
	}
	if len(t.MotivationLabels) > 0 && len(t.Motivations) == 0 {
		return ErrNoMotivations
	}
	return nil
}

// Table is the table-driven Augmenter.
type Table struct {
	suggestions map[string]string
	motivations []string
	motivate    map[string]struct{}
	rnd         Rand
}

// New validates tables and returns a Table drawing motivations from rnd.
// A nil rnd uses the global math/rand/v2 source.
func New(tables Tables, rnd Rand) (*Table, error) {
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	if rnd == nil {
		rnd = globalRand{}
	}

	t := &Table{
		suggestions: make(map[string]string, len(tables.Suggestions)),
		motivations: append([]string(nil), tables.Motivations...),
		motivate:    make(map[string]struct{}, len(tables.MotivationLabels)),
		rnd:         rnd,
	}
	for k, v := range tables.Suggestions {
		t.suggestions[k] = v
	}
	for _, l := range tables.MotivationLabels {
		t.motivate[l] = struct{}{}
	}
	return t, nil
}

// Augment appends the suggestion for label, if any, and then one randomly
// chosen motivation line when label is in the motivation set. Labels with
// no entries return reply unchanged.
func (t *Table) Augment(label, reply string) string {
	if s, ok := t.suggestions[label]; ok {
		reply += SuggestionSeparator + s
	}
	if _, ok := t.motivate[label]; ok && len(t.motivations) > 0 {
		reply += MotivationSeparator + t.motivations[t.rnd.IntN(len(t.motivations))]
	}
	return reply
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Compile-time interface satisfaction check.
var _ Augmenter = (*Table)(nil)
