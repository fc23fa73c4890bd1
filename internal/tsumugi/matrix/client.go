// Package matrix provides the Matrix chat-client adapter for the relay.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms is the list of room IDs the bot joins and listens in. Empty
	// means the bot only listens in rooms it is already a member of.
	Rooms []string
	// SyncStore optionally persists the sync position across restarts.
	// When nil, an in-memory store is used and room history is replayed on
	// every restart.
	SyncStore mautrix.SyncStore
}

// InboundMessage is one room message as seen by the adapter.
type InboundMessage struct {
	RoomID      string
	EventID     string
	Sender      string
	Body        string
	MentionsBot bool
	SenderIsBot bool
}

// MessageHandler processes incoming room messages.
type MessageHandler func(ctx context.Context, msg InboundMessage)

// Client wraps the mautrix client.
type Client struct {
	client     *mautrix.Client
	config     *Config
	localpart  string
	stopCh     chan struct{}
	msgHandler MessageHandler
}

// New creates a new Matrix client.
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	c := &Client{
		client:    client,
		config:    config,
		localpart: id.UserID(config.UserID).Localpart(),
		stopCh:    make(chan struct{}),
	}

	// A persistent sync store lets the bot resume from the last known
	// position after a restart instead of replaying the full room history.
	if config.SyncStore != nil {
		client.Store = config.SyncStore
		slog.Info("matrix: using persistent sync store")
	} else {
		slog.Warn("matrix: no sync store configured, history will replay on restart")
	}

	return c, nil
}

// Start begins syncing with the Matrix homeserver.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.msgHandler = handler

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(id.RoomID(roomID)); err != nil {
			return fmt.Errorf("failed to join room %s: %w", roomID, err)
		}
	}

	// Start syncing in background with exponential back-off reconnection.
	// Without retries a transient homeserver error would silently kill the
	// sync goroutine and leave the bot deaf to all new messages.
	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			backoff = backoffMin // reset before each attempt
			if err := c.client.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				slog.Error("matrix: sync stopped; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			// Sync returned nil, which only happens on a clean StopSync() call.
			return
		}
	}()

	return nil
}

// Stop stops the Matrix client.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// UserID returns the client's full user ID.
func (c *Client) UserID() string {
	return c.config.UserID
}

// Localpart returns the username part of the client's user ID.
func (c *Client) Localpart() string {
	return c.localpart
}

// ReplyTo sends a reply to a specific message.
func (c *Client) ReplyTo(ctx context.Context, roomID, eventID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    message,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{
				EventID: id.EventID(eventID),
			},
		},
	}

	_, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// React attaches a reaction (e.g. "✅") to a specific message.
func (c *Client) React(ctx context.Context, roomID, eventID, emoji string) error {
	_, err := c.client.SendReaction(ctx, id.RoomID(roomID), id.EventID(eventID), emoji)
	if err != nil {
		return fmt.Errorf("failed to send reaction: %w", err)
	}
	return nil
}

// handleMessage converts a raw Matrix event into an InboundMessage and hands
// it to the registered handler.
func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.MsgType != event.MsgText {
		return
	}

	// Matrix has no author-is-bot flag; the only bot the adapter can
	// reliably identify is itself.
	senderIsBot := evt.Sender == id.UserID(c.config.UserID)

	if c.msgHandler != nil {
		c.msgHandler(ctx, InboundMessage{
			RoomID:      evt.RoomID.String(),
			EventID:     evt.ID.String(),
			Sender:      evt.Sender.String(),
			Body:        msgContent.Body,
			MentionsBot: c.mentionsBot(msgContent),
			SenderIsBot: senderIsBot,
		})
	}
}

// mentionsBot reports whether the message mentions the bot, either through
// the structured m.mentions block or a plain-text "@localpart" in the body.
func (c *Client) mentionsBot(content *event.MessageEventContent) bool {
	if content.Mentions != nil {
		for _, uid := range content.Mentions.UserIDs {
			if uid == id.UserID(c.config.UserID) {
				return true
			}
		}
	}
	return strings.Contains(content.Body, "@"+c.localpart) ||
		strings.Contains(content.Body, c.config.UserID)
}

// joinRoom attempts to join a room.
func (c *Client) joinRoom(roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(context.Background(), roomID)
	if err != nil {
		// M_FORBIDDEN is returned by homeservers when the bot is already a
		// member of the room.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
