// Package matrix is the Matrix transport of Bestie: the bot accepts room
// invites and answers every text message with a composed reply. Senders
// are authenticated by their homeserver, so each MXID gets its own
// persisted conversation.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds the Matrix connection parameters.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// DB persists the /sync position across restarts. When nil an in-memory
	// store is used.
	DB *sql.DB
	// MaxInFlight bounds concurrently answered messages. Zero means
	// DefaultMaxInFlight.
	MaxInFlight int
	// MaxOfflineGap overrides DefaultMaxOfflineGap when positive.
	MaxOfflineGap time.Duration
}

// DefaultMaxOfflineGap is how far back messages received while the bot was
// offline are still answered after a restart.
const DefaultMaxOfflineGap = time.Hour

// MessageHandler is called for each incoming message event.
type MessageHandler func(ctx context.Context, evt *event.Event)

// Client wraps the mautrix client.
type Client struct {
	mxc       *mautrix.Client
	cfg       *Config
	syncStore *DBSyncStore
	stopCh    chan struct{}
	dispatch  *Dispatcher
}

// New creates a Matrix client but does not start syncing.
func New(cfg *Config) (*Client, error) {
	mxc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	c := &Client{mxc: mxc, cfg: cfg, stopCh: make(chan struct{})}
	if cfg.DB != nil {
		c.syncStore = newDBSyncStore(cfg.DB)
		mxc.Store = c.syncStore
	} else {
		slog.Warn("matrix sync store: no DB configured, history will replay on restart")
	}
	return c, nil
}

// ResumeSince returns the oldest event time the bot should answer. After a
// restart it reaches back to the last saved sync, capped by MaxOfflineGap.
// Without a saved position it returns the current time.
func (c *Client) ResumeSince(ctx context.Context) time.Time {
	now := time.Now()
	if c.syncStore == nil {
		return now
	}
	gap := c.cfg.MaxOfflineGap
	if gap <= 0 {
		gap = DefaultMaxOfflineGap
	}
	last, ok, err := c.syncStore.LastSynced(ctx, id.UserID(c.cfg.UserID))
	if err != nil {
		slog.Warn("matrix: read last sync time", "err", err)
		return now
	}
	since := resumeCutoff(last, ok, now, gap)
	if ok {
		slog.Info("matrix: resuming sync", "last_synced", last, "answering_since", since)
	}
	return since
}

// Start registers handler and begins the sync loop in the background. Each
// message is handled on its own goroutine so a slow reply never holds up
// /sync for other rooms. Room invites addressed to the bot are accepted
// automatically. The loop
// reconnects with exponential back-off and exits on Stop or when ctx is
// cancelled.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	slog.Warn("Matrix E2EE is not enabled; messages are in plaintext")

	syncer, ok := c.mxc.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	c.dispatch = NewDispatcher(handler, c.cfg.MaxInFlight)
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		if evt.Sender == id.UserID(c.cfg.UserID) {
			return
		}
		c.dispatch.Dispatch(ctx, evt)
	})
	syncer.OnEventType(event.StateMember, func(_ context.Context, evt *event.Event) {
		c.handleMembership(ctx, evt)
	})

	go c.syncLoop(ctx)
	return nil
}

func (c *Client) syncLoop(ctx context.Context) {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := c.mxc.SyncWithContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		select {
		case <-c.stopCh:
			return
		default:
		}

		slog.Error("matrix sync error; reconnecting", "err", err, "backoff", backoff)
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop halts the sync loop and waits for in-flight replies.
func (c *Client) Stop() {
	select {
	case <-c.stopCh:
		return
	default:
		close(c.stopCh)
	}
	c.mxc.StopSync()
	if c.dispatch != nil {
		c.dispatch.Wait()
	}
}

// SendReply sends text as a reply to eventID in roomID.
func (c *Client) SendReply(ctx context.Context, roomID id.RoomID, eventID id.EventID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: eventID},
		},
	}
	if _, err := c.mxc.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("matrix: send reply: %w", err)
	}
	return nil
}

// SetTyping toggles the typing indicator in roomID.
func (c *Client) SetTyping(ctx context.Context, roomID id.RoomID, typing bool) error {
	if _, err := c.mxc.UserTyping(ctx, roomID, typing, 30*time.Second); err != nil {
		return fmt.Errorf("matrix: set typing: %w", err)
	}
	return nil
}

// UserID returns the bot's Matrix user ID.
func (c *Client) UserID() id.UserID { return id.UserID(c.cfg.UserID) }

// handleMembership joins rooms the bot is invited to.
func (c *Client) handleMembership(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != c.cfg.UserID {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}
	if _, err := c.mxc.JoinRoomByID(ctx, evt.RoomID); err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: invite no longer valid", "room", evt.RoomID)
			return
		}
		slog.Error("matrix: join room failed", "room", evt.RoomID, "err", err)
		return
	}
	slog.Info("matrix: joined room", "room", evt.RoomID, "inviter", evt.Sender)
}
