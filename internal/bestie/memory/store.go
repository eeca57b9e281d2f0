package memory

import (
	"sync"

	"github.com/bdobrica/bestie/internal/bestie/session"
)

// Window is the bounded, chronologically ordered turn buffer of one session.
// All access goes through its own mutex, so appends on one key are
// serialised while other keys proceed in parallel.
type Window struct {
	mu    sync.Mutex
	turns []Turn
}

// appendAndEvict appends turn and drops the oldest turns while the window
// exceeds capacity. It returns a copy of the resulting window.
func (w *Window) appendAndEvict(turn Turn, capacity int) []Turn {
	if capacity <= 0 {
		capacity = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.turns = append(w.turns, turn)
	if excess := len(w.turns) - capacity; excess > 0 {
		w.turns = w.turns[excess:]
	}
	return w.snapshotLocked()
}

// Snapshot returns a copy of the window's turns.
func (w *Window) Snapshot() []Turn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Len returns the number of turns in the window.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.turns)
}

// snapshotLocked copies the turns. Must be called with mu held.
func (w *Window) snapshotLocked() []Turn {
	out := make([]Turn, len(w.turns))
	copy(out, w.turns)
	return out
}

// Store is the process-wide map from session key to window.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex // guards windows only; never held during window ops
	windows map[session.Key]*Window
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{windows: make(map[session.Key]*Window)}
}

// GetOrCreate returns the window for key, creating an empty one on first use.
func (s *Store) GetOrCreate(key session.Key) *Window {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[key]; ok {
		return w
	}
	w = &Window{}
	s.windows[key] = w
	return w
}

// AppendAndEvict appends turn to key's window, trims it to capacity (oldest
// first) and returns the post-append snapshot. Concurrent calls on the same
// key are applied in some serial order; none is lost.
func (s *Store) AppendAndEvict(key session.Key, turn Turn, capacity int) []Turn {
	return s.GetOrCreate(key).appendAndEvict(turn, capacity)
}

// Snapshot returns a point-in-time copy of key's window, or nil when the key
// has never been used. Snapshot does not create windows.
func (s *Store) Snapshot(key session.Key) []Turn {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return w.Snapshot()
}

// Len returns the number of turns stored for key.
func (s *Store) Len(key session.Key) int {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return w.Len()
}

// Sessions returns the number of windows currently held.
func (s *Store) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}
