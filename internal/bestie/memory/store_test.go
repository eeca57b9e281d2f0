package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/bdobrica/bestie/internal/bestie/session"
)

func userKey(id string) session.Key { return session.Key{Kind: session.KindUser, ID: id} }

func TestAppendAndEvict_KeepsLastC(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		capacity int
	}{
		{name: "under capacity", n: 3, capacity: 5},
		{name: "exactly capacity", n: 5, capacity: 5},
		{name: "over capacity", n: 12, capacity: 5},
		{name: "capacity one", n: 4, capacity: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			key := userKey("alice")
			for i := 0; i < tt.n; i++ {
				s.AppendAndEvict(key, UserTurn(fmt.Sprintf("m%d", i)), tt.capacity)
			}

			got := s.Snapshot(key)
			want := min(tt.n, tt.capacity)
			if len(got) != want {
				t.Fatalf("len = %d, want %d", len(got), want)
			}
			first := tt.n - want
			for i, turn := range got {
				if exp := fmt.Sprintf("m%d", first+i); turn.Content != exp {
					t.Errorf("turn[%d] = %q, want %q", i, turn.Content, exp)
				}
			}
		})
	}
}

func TestAppendAndEvict_ReturnsPostAppendSnapshot(t *testing.T) {
	s := NewStore()
	key := session.Global()

	s.AppendAndEvict(key, UserTurn("ciao"), 10)
	snap := s.AppendAndEvict(key, AssistantTurn("ciao a te"), 10)

	if len(snap) != 2 || snap[1].Role != RoleAssistant || snap[1].Content != "ciao a te" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	// Mutating the returned slice must not affect the stored window.
	snap[0].Content = "changed"
	if got := s.Snapshot(key)[0].Content; got != "ciao" {
		t.Errorf("stored turn changed through snapshot: %q", got)
	}
}

func TestAppendAndEvict_NonPositiveCapacity(t *testing.T) {
	s := NewStore()
	key := userKey("x")
	s.AppendAndEvict(key, UserTurn("a"), 0)
	s.AppendAndEvict(key, UserTurn("b"), -3)
	if got := s.Snapshot(key); len(got) != 1 || got[0].Content != "b" {
		t.Fatalf("expected only the newest turn, got %+v", got)
	}
}

func TestPairsWithCapacityThree(t *testing.T) {
	s := NewStore()
	key := session.Key{Kind: session.KindGuest, ID: "g1"}
	for i := 1; i <= 3; i++ {
		s.AppendAndEvict(key, UserTurn(fmt.Sprintf("U%d", i)), 3)
		s.AppendAndEvict(key, AssistantTurn(fmt.Sprintf("A%d", i)), 3)
	}

	got := s.Snapshot(key)
	want := []Turn{AssistantTurn("A2"), UserTurn("U3"), AssistantTurn("A3")}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%+v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("turn[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSnapshot_UnknownKey(t *testing.T) {
	s := NewStore()
	if got := s.Snapshot(userKey("nobody")); got != nil {
		t.Errorf("expected nil snapshot, got %+v", got)
	}
	if s.Sessions() != 0 {
		t.Errorf("Snapshot must not create windows; sessions = %d", s.Sessions())
	}
	if s.Len(userKey("nobody")) != 0 {
		t.Error("Len of unknown key should be 0")
	}
}

func TestGetOrCreate_ReturnsSameWindow(t *testing.T) {
	s := NewStore()
	a := s.GetOrCreate(userKey("a"))
	if b := s.GetOrCreate(userKey("a")); a != b {
		t.Error("GetOrCreate returned different windows for the same key")
	}
	if a == s.GetOrCreate(userKey("b")) {
		t.Error("distinct keys share a window")
	}
	if s.Sessions() != 2 {
		t.Errorf("sessions = %d, want 2", s.Sessions())
	}
}

func TestIsolationBetweenIdentities(t *testing.T) {
	s := NewStore()
	a, b := userKey("1"), userKey("2")

	s.AppendAndEvict(b, UserTurn("b-only"), 15)
	before := s.Snapshot(b)

	for i := 0; i < 30; i++ {
		s.AppendAndEvict(a, UserTurn(fmt.Sprintf("a%d", i)), 15)
	}

	after := s.Snapshot(b)
	if len(after) != len(before) || after[0] != before[0] {
		t.Fatalf("window B changed after appends to A: before=%+v after=%+v", before, after)
	}
}

func TestConcurrentAppends_NoLostUpdates(t *testing.T) {
	const callers = 64
	s := NewStore()
	key := userKey("shared")

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AppendAndEvict(key, UserTurn(fmt.Sprintf("c%d", i)), callers*2)
		}(i)
	}
	wg.Wait()

	got := s.Snapshot(key)
	if len(got) != callers {
		t.Fatalf("len = %d, want %d", len(got), callers)
	}
	seen := make(map[string]bool, callers)
	for _, turn := range got {
		if seen[turn.Content] {
			t.Fatalf("duplicated turn %q", turn.Content)
		}
		seen[turn.Content] = true
	}
}

func TestConcurrentAppends_WithEviction(t *testing.T) {
	const (
		callers  = 50
		capacity = 10
	)
	s := NewStore()
	key := userKey("busy")

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap := s.AppendAndEvict(key, UserTurn(fmt.Sprintf("c%d", i)), capacity)
			if len(snap) > capacity {
				t.Errorf("snapshot exceeds capacity: %d", len(snap))
			}
		}(i)
	}
	wg.Wait()

	if got := s.Len(key); got != capacity {
		t.Fatalf("len = %d, want %d", got, capacity)
	}
}

func TestConcurrentKeys_Independent(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for k := 0; k < 8; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			key := userKey(fmt.Sprintf("u%d", k))
			for i := 0; i < 20; i++ {
				s.AppendAndEvict(key, UserTurn("x"), 100)
				_ = s.Snapshot(key)
			}
		}(k)
	}
	wg.Wait()

	for k := 0; k < 8; k++ {
		if got := s.Len(userKey(fmt.Sprintf("u%d", k))); got != 20 {
			t.Errorf("u%d: len = %d, want 20", k, got)
		}
	}
}
