package pairux

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"
)

// Events emitted by the chat client.
const (
	EventChatNewMessage     = "chat:new-message"
	EventChatPresenceChange = "chat:presence-change"
	EventChatPresenceUpdate = "chat:presence-update"
)

// ChatUserTopic is the per-user chat channel topic.
func ChatUserTopic(userID string) string {
	return "realtime:chat:user:" + userID
}

// ChatTopic is the topic messages of one conversation are broadcast on.
func ChatTopic(conversationID string) string {
	return "realtime:chat:" + conversationID
}

// ============================================================================
// Chat Client
// ============================================================================

// ChatClient receives chat traffic for the signed-in user and keeps the
// message and presence caches current.
type ChatClient struct {
	conn   *Conn[ChatEvent]
	tokens TokenSource

	mu     sync.RWMutex
	userID string
}

// NewChatClient creates a disconnected chat client.
func NewChatClient(cfg Config, tokens TokenSource, cache *AppCache, emitter Emitter, opts ...ConnOption) *ChatClient {
	opts = append(opts, WithConnCache(cache))
	return &ChatClient{
		conn:   NewConn[ChatEvent](cfg, ChatCodec{}, chatConsumer{cache: cache, emitter: emitter}, opts...),
		tokens: tokens,
	}
}

type chatConsumer struct {
	cache   *AppCache
	emitter Emitter
}

func (c chatConsumer) OnMessage(ev ChatEvent) {
	switch v := ev.(type) {
	case NewMessage:
		if c.cache != nil && v.ConversationID != "" {
			if c.cache.Messages.AppendIfCached(v.ConversationID, []MessageRow{v.Row()}) {
				glog.V(2).Infof("chat: cached message %s in %s", v.ID, v.ConversationID)
			}
		}
		emit(c.emitter, EventChatNewMessage, v.ChatMessage)

	case PresenceChange:
		if c.cache != nil {
			c.cache.Presence.UpdateFromRealtime(v.UserID, v.IsOnline)
		}
		emit(c.emitter, EventChatPresenceChange, v)
	}
}

func (c chatConsumer) OnPresence(delta PresenceDelta) {
	emit(c.emitter, EventChatPresenceUpdate, delta.Raw)
}

// Connect joins the user's chat channel with userID as presence key. An
// empty userID falls back to the credentials.
func (c *ChatClient) Connect(ctx context.Context, userID string) error {
	if c.tokens == nil {
		return authError("not authenticated")
	}
	creds, err := c.tokens.Credentials()
	if err != nil {
		return err
	}
	if userID == "" {
		userID = creds.UserID
	}
	if userID == "" {
		return authError("user id unknown")
	}

	err = c.conn.Connect(ctx, creds, JoinParams[ChatEvent]{
		Topic:       ChatUserTopic(userID),
		PresenceKey: userID,
	})
	if err != nil {
		if !c.conn.State().Active() {
			c.mu.Lock()
			c.userID = ""
			c.mu.Unlock()
		}
		return err
	}

	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()

	glog.Infof("chat: connected as %s", userID)
	return nil
}

// BroadcastMessage delivers msg to the members of a conversation.
func (c *ChatClient) BroadcastMessage(conversationID string, msg ChatMessage) error {
	if conversationID == "" {
		return sessionError("conversation id required")
	}
	msg.ConversationID = conversationID
	event, payload, err := ChatCodec{}.Encode(NewMessage{ChatMessage: msg})
	if err != nil {
		return err
	}
	return c.conn.SendEnvelope(BroadcastEnvelope(ChatTopic(conversationID), event, payload))
}

// SubscribeToConversation joins the broadcast topic of a conversation on
// the existing connection.
func (c *ChatClient) SubscribeToConversation(conversationID string) error {
	if c.tokens == nil {
		return authError("not authenticated")
	}
	creds, err := c.tokens.Credentials()
	if err != nil {
		return err
	}
	if conversationID == "" {
		return sessionError("conversation id required")
	}
	join := JoinEnvelope(ChatTopic(conversationID), "", creds.AccessToken, uuid.New().String())
	return c.conn.SendEnvelope(join)
}

// Disconnect closes the chat channel.
func (c *ChatClient) Disconnect() {
	c.mu.Lock()
	c.userID = ""
	c.mu.Unlock()
	c.conn.Disconnect()
}

func (c *ChatClient) Status() ConnectionState {
	return c.conn.State()
}

func (c *ChatClient) IsConnected() bool {
	return c.conn.State().Active()
}

// UserID returns the connected user, or "".
func (c *ChatClient) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Subscribe streams decoded chat events in addition to emitted events.
func (c *ChatClient) Subscribe() (<-chan ChatEvent, func()) {
	return c.conn.Subscribe()
}

// Done is closed when the current connection has fully shut down.
func (c *ChatClient) Done() <-chan struct{} {
	return c.conn.Done()
}
