package augment_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/bdobrica/bestie/internal/bestie/augment"
	"github.com/bdobrica/bestie/internal/bestie/emotion"
)

// fixedRand always returns the same index, clamped to n.
type fixedRand int

func (f fixedRand) IntN(n int) int {
	if int(f) >= n {
		return n - 1
	}
	return int(f)
}

func mustTable(t *testing.T, rnd augment.Rand) *augment.Table {
	t.Helper()
	tbl, err := augment.New(augment.DefaultTables(), rnd)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tbl
}

func TestAugment_SuggestionThenMotivation(t *testing.T) {
	tbl := mustTable(t, fixedRand(2))
	got := tbl.Augment(emotion.Triste, "R")

	want := "R" +
		augment.SuggestionSeparator + "Prova a fare un respiro e rallentare un attimo. Ci sono qui." +
		augment.MotivationSeparator + "Hai più forza di quanto pensi."
	if got != want {
		t.Errorf("Augment(triste) =\n%q\nwant\n%q", got, want)
	}
}

func TestAugment_ExactlyOneMotivationFromList(t *testing.T) {
	defaults := augment.DefaultTables()
	for i := range defaults.Motivations {
		tbl := mustTable(t, fixedRand(i))
		got := tbl.Augment(emotion.Ansioso, "ok")
		if n := strings.Count(got, augment.MotivationSeparator); n != 1 {
			t.Fatalf("expected exactly one motivation, got %d in %q", n, got)
		}
		if !strings.HasSuffix(got, augment.MotivationSeparator+defaults.Motivations[i]) {
			t.Errorf("index %d: expected motivation %q at the end of %q", i, defaults.Motivations[i], got)
		}
	}
}

func TestAugment_MotivationOnly(t *testing.T) {
	// arrabbiato is in the motivation set but has no suggestion.
	got := mustTable(t, fixedRand(0)).Augment(emotion.Arrabbiato, "R")
	want := "R" + augment.MotivationSeparator + "Sono qui con te."
	if got != want {
		t.Errorf("Augment(arrabbiato) = %q, want %q", got, want)
	}
}

func TestAugment_Unchanged(t *testing.T) {
	tbl := mustTable(t, fixedRand(0))
	for _, label := range []string{emotion.Felice, emotion.Neutro, emotion.Stanco, "euforico", ""} {
		if got := tbl.Augment(label, "R"); got != "R" {
			t.Errorf("Augment(%q) = %q, want reply unchanged", label, got)
		}
	}
}

func TestNew_RejectsUnknownLabels(t *testing.T) {
	cases := []struct {
		name   string
		tables augment.Tables
		want   error
	}{
		{
			name:   "suggestion key",
			tables: augment.Tables{Suggestions: map[string]string{"euforico": "x"}},
			want:   augment.ErrUnknownLabel,
		},
		{
			name:   "motivation label",
			tables: augment.Tables{Motivations: []string{"m"}, MotivationLabels: []string{"critico"}},
			want:   augment.ErrUnknownLabel,
		},
		{
			name:   "labels without lines",
			tables: augment.Tables{MotivationLabels: []string{emotion.Triste}},
			want:   augment.ErrNoMotivations,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := augment.New(tc.tables, nil); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNew_CopiesTables(t *testing.T) {
	tables := augment.DefaultTables()
	tbl, err := augment.New(tables, fixedRand(0))
	if err != nil {
		t.Fatal(err)
	}
	tables.Suggestions[emotion.Triste] = "mutated"
	tables.Motivations[0] = "mutated"

	got := tbl.Augment(emotion.Triste, "R")
	if strings.Contains(got, "mutated") {
		t.Errorf("table reflects caller mutation: %q", got)
	}
}
