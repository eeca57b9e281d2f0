package session

import "strings"

// Default per-mode window capacities.
const (
	DefaultGlobalCapacity = 40
	DefaultGuestCapacity  = 20
	DefaultUserCapacity   = 15
)

// Capacities holds the window capacity of each access mode.
type Capacities struct {
	Global int `yaml:"global"`
	Guest  int `yaml:"guest"`
	User   int `yaml:"user"`
}

// DefaultCapacities returns the documented per-mode defaults.
func DefaultCapacities() Capacities {
	return Capacities{
		Global: DefaultGlobalCapacity,
		Guest:  DefaultGuestCapacity,
		User:   DefaultUserCapacity,
	}
}

// Resolver maps identities to window keys and keys to capacities.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	caps Capacities
}

// NewResolver returns a Resolver. Non-positive capacities fall back to the
// defaults.
func NewResolver(caps Capacities) *Resolver {
	def := DefaultCapacities()
	if caps.Global <= 0 {
		caps.Global = def.Global
	}
	if caps.Guest <= 0 {
		caps.Guest = def.Guest
	}
	if caps.User <= 0 {
		caps.User = def.User
	}
	return &Resolver{caps: caps}
}

// Resolve returns the window key for id. Guest and authenticated identities
// must carry a non-blank id.
func (r *Resolver) Resolve(id Identity) (Key, error) {
	switch id.Kind() {
	case KindGuest, KindUser:
		raw := strings.TrimSpace(id.ID())
		if raw == "" {
			return Key{}, ErrEmptyID
		}
		return Key{Kind: id.Kind(), ID: raw}, nil
	default:
		return Global(), nil
	}
}

// Capacity returns the window capacity for key's mode.
func (r *Resolver) Capacity(key Key) int {
	switch key.Kind {
	case KindGuest:
		return r.caps.Guest
	case KindUser:
		return r.caps.User
	default:
		return r.caps.Global
	}
}
