package auth

import "time"

// SetClock overrides the time source for expiry tests.
func (s *TokenStore) SetClock(now func() time.Time) { s.now = now }
