// Package session maps a resolved caller identity to the key of its
// conversation window.
//
// Keys are a tagged union of (Kind, ID). The kind is part of the key's
// identity, so a guest id, the global sentinel and an authenticated subject
// never collide even when their raw ids are equal.
package session

import (
	"errors"
	"fmt"
)

// ErrEmptyID is returned when a guest or authenticated identity carries no id.
var ErrEmptyID = errors.New("session: identity has an empty id")

// Kind is the access mode a key belongs to.
type Kind string

const (
	// KindGlobal is the single shared window for anonymous traffic.
	KindGlobal Kind = "global"
	// KindGuest is a per-guest-connection window.
	KindGuest Kind = "guest"
	// KindUser is a per-authenticated-identity window.
	KindUser Kind = "user"
)

// GlobalID is the sentinel id of the shared anonymous window.
const GlobalID = "guest"

// Key identifies exactly one conversation window. Key is comparable and is
// used directly as a map key.
type Key struct {
	Kind Kind
	ID   string
}

// Global returns the key of the shared anonymous window.
func Global() Key { return Key{Kind: KindGlobal, ID: GlobalID} }

// String renders the key as "kind:id".
func (k Key) String() string {
	return string(k.Kind) + ":" + k.ID
}

// Identity is the caller context handed to the resolver by a transport.
// Construct it with Anonymous, Guest or Authenticated.
type Identity struct {
	kind Kind
	id   string
}

// Anonymous is the identity of an unauthenticated caller sharing the
// global window.
func Anonymous() Identity { return Identity{kind: KindGlobal} }

// Guest is the identity of a guest connection with the given session id.
func Guest(id string) Identity { return Identity{kind: KindGuest, id: id} }

// Authenticated is the identity of a caller whose credential was verified
// by the auth collaborator. subject must be stable for that caller.
func Authenticated(subject string) Identity { return Identity{kind: KindUser, id: subject} }

// Kind returns the access mode of the identity.
func (i Identity) Kind() Kind {
	if i.kind == "" {
		return KindGlobal
	}
	return i.kind
}

// ID returns the guest id or authenticated subject ("" for anonymous).
func (i Identity) ID() string { return i.id }

// IsAuthenticated reports whether long-term records may be written for
// this identity.
func (i Identity) IsAuthenticated() bool { return i.kind == KindUser }

// String renders the identity for logs.
func (i Identity) String() string {
	if i.Kind() == KindGlobal {
		return string(KindGlobal)
	}
	return fmt.Sprintf("%s:%s", i.kind, i.id)
}
