package emotion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/bestie/internal/bestie/llm"
)

// ErrClassification wraps every failure of the classification call.
var ErrClassification = errors.New("emotion: classification failed")

// DefaultTimeout bounds a single classification call.
const DefaultTimeout = 20 * time.Second

// Classifier asks a Provider which emotion a message expresses.
type Classifier struct {
	provider llm.Provider
	timeout  time.Duration
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClassifier returns a Classifier backed by provider.
func NewClassifier(provider llm.Provider, opts ...Option) *Classifier {
	c := &Classifier{provider: provider, timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify returns the normalized label the provider answered with. The
// label may fall outside Vocabulary; callers decide what to do with it.
func (c *Classifier) Classify(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.provider.Complete(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: Prompt(text)},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrClassification, err)
	}
	return Normalize(out), nil
}

// Prompt builds the single-turn classification instruction for text.
func Prompt(text string) string {
	var b strings.Builder
	b.WriteString("Dimmi SOLO quale emozione rappresenta questo messaggio: ")
	b.WriteString(strings.Join(Vocabulary, ", "))
	b.WriteString(".\nMessaggio: ")
	b.WriteString(text)
	return b.String()
}
