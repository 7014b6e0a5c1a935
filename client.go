// Package pairux is the realtime core of the PairUX desktop backend.
//
// It keeps one persistent WebSocket connection per logical channel to a
// Phoenix-style pub/sub backend, joins the channel, relays WebRTC
// signaling and chat traffic, and keeps a shared TTL cache current from
// presence updates.
//
// Example:
//
//	client, _ := pairux.NewClientFromEnv()
//	client.SetToken(accessToken)
//	client.Events().On("signaling:offer", func(event string, payload any) { ... })
//
//	// Signaling (one session at a time)
//	client.Signaling().Connect(ctx, "session-1", "", true)
//	client.Signaling().SendOffer(sdp)
//
//	// Chat
//	client.Chat().Connect(ctx, "")
//	client.Chat().SubscribeToConversation("conv-1")
package pairux

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"
)

// ============================================================================
// Client
// ============================================================================

// Client wires the configuration, credentials, shared cache and emitter
// into the signaling and chat clients.
type Client struct {
	cfg        Config
	tokens     *TokenStore
	cache      *AppCache
	bus        *EventBus
	emitter    Emitter
	dialer     Dialer
	clock      clock.Clock
	httpClient *http.Client

	once      sync.Once
	signaling *SignalingClient
	chat      *ChatClient
}

type ClientOption func(*Client)

func WithCache(cache *AppCache) ClientOption {
	return func(c *Client) { c.cache = cache }
}

// WithEmitter replaces the built-in EventBus.
func WithEmitter(e Emitter) ClientOption {
	return func(c *Client) { c.emitter = e }
}

func WithDialer(d Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

func WithClock(clk clock.Clock) ClientOption {
	return func(c *Client) { c.clock = clk }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithHeartbeatInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.cfg.HeartbeatInterval = d }
}

func WithQueueCapacity(n int) ClientOption {
	return func(c *Client) { c.cfg.QueueCapacity = n }
}

func WithFlushTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.cfg.FlushTimeout = d }
}

func WithCredentials(creds Credentials) ClientOption {
	return func(c *Client) { c.tokens.Set(creds) }
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL, anonKey string, opts ...ClientOption) *Client {
	return newClient(Config{URL: strings.TrimRight(baseURL, "/"), AnonKey: anonKey}, opts...)
}

// NewClientWithConfig creates a client from a full Config.
func NewClientWithConfig(cfg Config, opts ...ClientOption) *Client {
	return newClient(cfg, opts...)
}

// NewClientFromEnv creates a client configured by ConfigFromEnv.
func NewClientFromEnv(opts ...ClientOption) (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return newClient(cfg, opts...), nil
}

func newClient(cfg Config, opts ...ClientOption) *Client {
	c := &Client{
		cfg:    cfg,
		tokens: NewTokenStore(Credentials{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg.defaults()

	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.cache == nil {
		c.cache = NewAppCache(c.clock)
	}
	if c.emitter == nil {
		c.bus = NewEventBus()
		c.emitter = c.bus
	}
	if c.dialer == nil {
		c.dialer = WebsocketDialer{HTTPClient: c.httpClient}
	}
	return c
}

func (c *Client) init() {
	c.once.Do(func() {
		opts := []ConnOption{WithConnDialer(c.dialer), WithConnClock(c.clock)}
		c.signaling = NewSignalingClient(c.cfg, c.tokens, c.cache, c.emitter, opts...)
		c.chat = NewChatClient(c.cfg, c.tokens, c.cache, c.emitter, opts...)
	})
}

// SetToken sets the access token. When the token is a JWT its subject and
// email fill in a missing user id and username.
func (c *Client) SetToken(token string) {
	creds := c.tokens.Current()
	creds.AccessToken = token
	if claims, err := ParseTokenClaims(token); err == nil {
		if creds.UserID == "" {
			creds.UserID = claims.Subject
		}
		if creds.Username == "" {
			creds.Username = claims.Email
		}
	}
	c.tokens.Set(creds)
}

// SetCredentials replaces the signed-in user.
func (c *Client) SetCredentials(creds Credentials) {
	c.tokens.Set(creds)
}

// Tokens returns the credential store shared by every connection.
func (c *Client) Tokens() *TokenStore {
	return c.tokens
}

func (c *Client) Config() Config {
	return c.cfg
}

// Cache returns the process-wide cache.
func (c *Client) Cache() *AppCache {
	return c.cache
}

// Events returns the built-in EventBus, or nil when WithEmitter was used.
func (c *Client) Events() *EventBus {
	return c.bus
}

// Signaling returns the session signaling sub-client.
func (c *Client) Signaling() *SignalingClient {
	c.init()
	return c.signaling
}

// Chat returns the chat sub-client.
func (c *Client) Chat() *ChatClient {
	c.init()
	return c.chat
}

// StartJanitor sweeps expired cache entries every JanitorInterval until
// ctx is done.
func (c *Client) StartJanitor(ctx context.Context) {
	go c.cache.RunJanitor(ctx, c.cfg.JanitorInterval)
}

// Close disconnects both sub-clients.
func (c *Client) Close() {
	c.init()
	c.signaling.Disconnect()
	c.chat.Disconnect()
	glog.V(1).Infof("client closed")
}
