// Package reply runs the conversation pipeline: safety gate, emotion
// classification, long-term logging, windowed memory, completion and
// augmentation.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/bestie/internal/bestie/augment"
	"github.com/bdobrica/bestie/internal/bestie/emotion"
	"github.com/bdobrica/bestie/internal/bestie/llm"
	"github.com/bdobrica/bestie/internal/bestie/memory"
	"github.com/bdobrica/bestie/internal/bestie/observability"
	"github.com/bdobrica/bestie/internal/bestie/safety"
	"github.com/bdobrica/bestie/internal/bestie/session"
)

var (
	// ErrCompletion wraps every failure of the reply completion call.
	ErrCompletion = errors.New("reply: completion failed")
	// ErrEmptyMessage is returned for blank messages.
	ErrEmptyMessage = errors.New("reply: message is empty")
)

// DefaultPersona is the system instruction prepended to every prompt.
const DefaultPersona = "Tu sei Bestie AI, un migliore amico virtuale dolce, calmo ed empatico. " +
	"Prima di rispondere, fermati un attimo a capire davvero come si sente la persona, " +
	"cosa sta chiedendo e cosa potrebbe esserci sotto alla superficie.\n\n" +
	"Parli in modo semplice, umano e spontaneo, come una persona vera, non come un robot. " +
	"Fai domande gentili per capire meglio, aiuti a mettere ordine nei pensieri, " +
	"e proponi piccole idee concrete (respiri, pause, attività leggere, parlare con qualcuno di fiducia…).\n\n" +
	"Non giudichi mai, non minimizzi il dolore. Non fai diagnosi mediche o psicologiche, " +
	"non consigli farmaci. Se percepisci contenuti legati a suicidio o autolesionismo, " +
	"incoraggia con delicatezza a cercare subito aiuto reale (amici, famiglia, servizi di emergenza)."

// DefaultCrisisReply is returned verbatim when the safety gate fires.
const DefaultCrisisReply = "Mi dispiace tantissimo che tu ti senta così. ❤️\n" +
	"Per favore parla con una persona reale ora: un amico, un familiare, " +
	"o i servizi di emergenza. La tua vita conta, davvero."

const (
	// DefaultCompletionTimeout bounds the reply completion call.
	DefaultCompletionTimeout = 60 * time.Second
	// DefaultSinkTimeout bounds each long-term log write.
	DefaultSinkTimeout = 2 * time.Second
)

// Classifier labels the emotion of a message.
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// LogSink receives long-term facts for authenticated identities.
// Writes are best-effort: errors are logged and never fail a reply.
type LogSink interface {
	RecordEmotion(ctx context.Context, identity session.Identity, label string, ts time.Time) error
	RecordMessage(ctx context.Context, identity session.Identity, text string, ts time.Time) error
}

// Request is one inbound user message.
type Request struct {
	Identity session.Identity
	Message  string
}

// Result is the outcome of a successful Compose.
type Result struct {
	Reply   string
	Emotion string
	Key     session.Key
}

// Composer wires the pipeline stages together. It is safe for concurrent use.
type Composer struct {
	screener   *safety.Screener
	classifier Classifier
	provider   llm.Provider
	store      *memory.Store
	resolver   *session.Resolver
	augmenter  augment.Augmenter
	sink       LogSink

	persona           string
	crisisReply       string
	completionTimeout time.Duration
	sinkTimeout       time.Duration
	now               func() time.Time
}

// Option configures a Composer.
type Option func(*Composer)

// WithResolver overrides the default session resolver.
func WithResolver(r *session.Resolver) Option {
	return func(c *Composer) { c.resolver = r }
}

// WithAugmenter overrides the default augmentation tables.
func WithAugmenter(a augment.Augmenter) Option {
	return func(c *Composer) { c.augmenter = a }
}

// WithLogSink enables long-term logging for authenticated identities.
func WithLogSink(s LogSink) Option {
	return func(c *Composer) { c.sink = s }
}

// WithPersona overrides DefaultPersona.
func WithPersona(text string) Option {
	return func(c *Composer) { c.persona = text }
}

// WithCrisisReply overrides DefaultCrisisReply.
func WithCrisisReply(text string) Option {
	return func(c *Composer) { c.crisisReply = text }
}

// WithCompletionTimeout overrides DefaultCompletionTimeout.
func WithCompletionTimeout(d time.Duration) Option {
	return func(c *Composer) {
		if d > 0 {
			c.completionTimeout = d
		}
	}
}

// WithSinkTimeout overrides DefaultSinkTimeout.
func WithSinkTimeout(d time.Duration) Option {
	return func(c *Composer) {
		if d > 0 {
			c.sinkTimeout = d
		}
	}
}

// WithClock overrides the timestamp source used for long-term facts.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) { c.now = now }
}

// New returns a Composer. The screener, classifier, provider and store are
// required.
func New(screener *safety.Screener, classifier Classifier, provider llm.Provider, store *memory.Store, opts ...Option) (*Composer, error) {
	if screener == nil || classifier == nil || provider == nil || store == nil {
		return nil, errors.New("reply: screener, classifier, provider and store are required")
	}
	c := &Composer{
		screener:          screener,
		classifier:        classifier,
		provider:          provider,
		store:             store,
		resolver:          session.NewResolver(session.DefaultCapacities()),
		persona:           DefaultPersona,
		crisisReply:       DefaultCrisisReply,
		completionTimeout: DefaultCompletionTimeout,
		sinkTimeout:       DefaultSinkTimeout,
		now:               time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.augmenter == nil {
		tbl, err := augment.New(augment.DefaultTables(), nil)
		if err != nil {
			return nil, fmt.Errorf("reply: default augmentation tables: %w", err)
		}
		c.augmenter = tbl
	}
	return c, nil
}

// Compose produces the reply for req.
//
// A message flagged by the safety gate returns the crisis reply with the
// critico label and leaves every window untouched. Classification and
// completion failures are returned wrapped in emotion.ErrClassification and
// ErrCompletion respectively; neither is retried.
func (c *Composer) Compose(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	key, err := c.resolver.Resolve(req.Identity)
	if err != nil {
		return nil, err
	}
	log := observability.WithTrace(ctx).With("session", key.String())

	if c.screener.Screen(req.Message) {
		log.Warn("safety gate triggered")
		return &Result{Reply: c.crisisReply, Emotion: emotion.Critico, Key: key}, nil
	}

	label, err := c.classifier.Classify(ctx, req.Message)
	if err != nil {
		if !errors.Is(err, emotion.ErrClassification) {
			err = fmt.Errorf("%w: %w", emotion.ErrClassification, err)
		}
		return nil, err
	}
	log.Debug("emotion classified", "emotion", label)

	c.recordFacts(ctx, req.Identity, label, req.Message)

	window := c.store.AppendAndEvict(key, memory.UserTurn(req.Message), c.resolver.Capacity(key))

	raw, err := c.complete(ctx, window)
	if err != nil {
		return nil, err
	}

	out := c.augmenter.Augment(label, raw)
	c.store.AppendAndEvict(key, memory.AssistantTurn(out), c.resolver.Capacity(key))

	return &Result{Reply: out, Emotion: label, Key: key}, nil
}

func (c *Composer) complete(ctx context.Context, window []memory.Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.completionTimeout)
	defer cancel()

	msgs := make([]llm.Message, 0, len(window)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: c.persona})
	for _, t := range window {
		msgs = append(msgs, llm.Message{Role: llm.Role(t.Role), Content: t.Content})
	}

	out, err := c.provider.Complete(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	return out, nil
}

// recordFacts writes the emotion and message facts for authenticated
// identities. Failures are logged and swallowed.
func (c *Composer) recordFacts(ctx context.Context, identity session.Identity, label, text string) {
	if c.sink == nil || !identity.IsAuthenticated() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.sinkTimeout)
	defer cancel()

	ts := c.now().UTC()
	log := observability.WithTrace(ctx)
	if err := c.sink.RecordEmotion(ctx, identity, label, ts); err != nil {
		log.Warn("log sink: record emotion failed", "identity", identity.String(), "err", err)
	}
	if err := c.sink.RecordMessage(ctx, identity, text, ts); err != nil {
		log.Warn("log sink: record message failed", "identity", identity.String(), "err", err)
	}
}
