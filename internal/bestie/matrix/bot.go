package matrix

import (
	"context"
	"errors"
	"strings"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/bestie/common/trace"
	"github.com/bdobrica/bestie/internal/bestie/auth"
	"github.com/bdobrica/bestie/internal/bestie/observability"
	"github.com/bdobrica/bestie/internal/bestie/reply"
)

// Messages sent when a reply cannot be produced.
const (
	FailureMessage   = "Scusa, non riesco a risponderti in questo momento. Riprova tra poco 💛"
	RateLimitMessage = "Mi stai scrivendo molto velocemente! Prenditi un respiro e riprova tra un minuto."
)

// Composer produces replies. Implemented by *reply.Composer.
type Composer interface {
	Compose(ctx context.Context, req reply.Request) (*reply.Result, error)
}

// Sender delivers replies to Matrix. Implemented by *Client.
type Sender interface {
	SendReply(ctx context.Context, roomID id.RoomID, eventID id.EventID, text string) error
	SetTyping(ctx context.Context, roomID id.RoomID, typing bool) error
}

// Limiter decides whether a sender may make another request.
type Limiter interface {
	Allow(key string) bool
}

// Bot turns Matrix message events into composed replies.
type Bot struct {
	composer Composer
	sender   Sender
	limiter  Limiter
	self     id.UserID
	since    time.Time
}

// NewBot returns a Bot answering as self. Events older than since are
// ignored so a fresh sync does not answer old history. limiter may be nil.
func NewBot(composer Composer, sender Sender, limiter Limiter, self id.UserID, since time.Time) *Bot {
	return &Bot{composer: composer, sender: sender, limiter: limiter, self: self, since: since}
}

// HandleMessage answers evt. It is a MessageHandler.
func (b *Bot) HandleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.self {
		return
	}
	if evt.Timestamp > 0 && time.UnixMilli(evt.Timestamp).Before(b.since) {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText || msg.RelatesTo.GetReplaceID() != "" {
		return
	}
	text := strings.TrimSpace(msg.Body)
	if text == "" {
		return
	}

	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	log := observability.WithTrace(ctx).With("room", evt.RoomID.String(), "sender", evt.Sender.String())

	if b.limiter != nil && !b.limiter.Allow("matrix:"+evt.Sender.String()) {
		log.Info("matrix sender rate-limited")
		b.send(ctx, evt, RateLimitMessage)
		return
	}

	if err := b.sender.SetTyping(ctx, evt.RoomID, true); err != nil {
		log.Debug("set typing failed", "err", err)
	}
	res, err := b.composer.Compose(ctx, reply.Request{
		Identity: auth.MatrixIdentity(evt.Sender.String()),
		Message:  text,
	})
	if err := b.sender.SetTyping(ctx, evt.RoomID, false); err != nil {
		log.Debug("clear typing failed", "err", err)
	}
	if err != nil {
		if errors.Is(err, reply.ErrEmptyMessage) {
			return
		}
		log.Warn("matrix reply failed", "err", err)
		b.send(ctx, evt, FailureMessage)
		return
	}
	b.send(ctx, evt, res.Reply)
}

func (b *Bot) send(ctx context.Context, evt *event.Event, text string) {
	if err := b.sender.SendReply(ctx, evt.RoomID, evt.ID, text); err != nil {
		observability.WithTrace(ctx).Error("matrix send failed", "room", evt.RoomID.String(), "err", err)
	}
}
