// Package llm defines the completion capability consumed by the reply
// pipeline and its OpenAI-compatible implementation.
//
// A completion call is synchronous and single-shot: given an ordered list of
// role-tagged messages it returns the response text or an error. Timeouts and
// transport failures are reported the same way; callers never retry.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the service answers without any text.
var ErrEmptyResponse = errors.New("llm: empty completion")

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a completion request.
type Message struct {
	Role    Role
	Content string
}

// Provider is the completion service capability.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, msgs []Message) (string, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, msgs []Message) (string, error)

// Complete calls f.
func (f ProviderFunc) Complete(ctx context.Context, msgs []Message) (string, error) {
	return f(ctx, msgs)
}
