package pairux

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"
)

// ============================================================================
// Connection State
// ============================================================================

// Status is the lifecycle stage of a connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusJoined       Status = "joined"
	StatusError        Status = "error"
)

// ConnectionState is a Status plus, for StatusError, the failure reason.
type ConnectionState struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Active reports whether the connection accepts sends.
func (s ConnectionState) Active() bool {
	return s.Status == StatusConnected || s.Status == StatusJoined
}

func (s ConnectionState) terminal() bool {
	return s.Status == StatusDisconnected || s.Status == StatusError
}

func (s ConnectionState) String() string {
	if s.Status == StatusError && s.Reason != "" {
		return string(s.Status) + ": " + s.Reason
	}
	return string(s.Status)
}

// ============================================================================
// Codec & Consumer
// ============================================================================

// Codec maps domain messages to broadcast events and back.
type Codec[M any] interface {
	// Encode returns the broadcast event name and the payload for msg.
	Encode(msg M) (event string, payload json.RawMessage, err error)
	Decode(payload json.RawMessage) (M, error)
}

// Consumer receives decoded inbound traffic on the read goroutine.
type Consumer[M any] interface {
	OnMessage(msg M)
	// OnPresence is called for every presence delta after the presence
	// cache has been updated.
	OnPresence(delta PresenceDelta)
}

// JoinParams describe the channel a connection joins.
type JoinParams[M any] struct {
	Topic       string
	PresenceKey string
	// Greeting is broadcast right after the join.
	Greeting []M
}

// ============================================================================
// Connection
// ============================================================================

// ConnOption configures a Conn.
type ConnOption func(*connOptions)

type connOptions struct {
	dialer Dialer
	clock  clock.Clock
	cache  *AppCache
}

// WithConnDialer replaces the WebSocket dialer.
func WithConnDialer(d Dialer) ConnOption {
	return func(o *connOptions) { o.dialer = d }
}

// WithConnClock sets the clock driving heartbeats and token expiry checks.
func WithConnClock(clk clock.Clock) ConnOption {
	return func(o *connOptions) { o.clock = clk }
}

// WithConnCache sets the cache updated from presence traffic.
func WithConnCache(cache *AppCache) ConnOption {
	return func(o *connOptions) { o.cache = cache }
}

// Conn is one realtime connection joined to one channel topic. Each
// Connect starts a generation served by a read goroutine and a write
// goroutine. Disconnect must not be called from a Consumer callback.
type Conn[M any] struct {
	cfg      Config
	dialer   Dialer
	clock    clock.Clock
	cache    *AppCache
	codec    Codec[M]
	consumer Consumer[M]

	mu        sync.RWMutex
	state     ConnectionState
	queue     chan Envelope
	channelID string
	gen       uint64
	stop      chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}

	// dispatchMu is held while a frame is handed to the consumer.
	dispatchMu sync.Mutex

	subMu sync.Mutex
	subs  map[chan M]struct{}
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// NewConn creates a disconnected connection.
func NewConn[M any](cfg Config, codec Codec[M], consumer Consumer[M], opts ...ConnOption) *Conn[M] {
	cfg.defaults()
	o := connOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = WebsocketDialer{}
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	return &Conn[M]{
		cfg:      cfg,
		dialer:   o.dialer,
		clock:    o.clock,
		cache:    o.cache,
		codec:    codec,
		consumer: consumer,
		state:    ConnectionState{Status: StatusDisconnected},
		done:     closedDone,
		subs:     make(map[chan M]struct{}),
	}
}

// State returns the current connection state.
func (c *Conn[M]) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ChannelID returns the joined topic, or "" before the first Connect.
func (c *Conn[M]) ChannelID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channelID
}

// Done is closed once both goroutines of the current generation exit.
func (c *Conn[M]) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Connect opens the transport and starts the read and write goroutines.
// The join and greeting frames are transmitted by the write goroutine
// ahead of anything queued by Send. A live previous generation is torn
// down first.
func (c *Conn[M]) Connect(ctx context.Context, creds Credentials, join JoinParams[M]) error {
	if err := ValidateAccessToken(creds.AccessToken, c.clock.Now()); err != nil {
		return err
	}
	wsURL, err := c.cfg.WebsocketURL()
	if err != nil {
		return err
	}
	if join.Topic == "" {
		return sessionError("join topic required")
	}

	greeting := make([]Envelope, 0, len(join.Greeting))
	for _, m := range join.Greeting {
		event, payload, err := c.codec.Encode(m)
		if err != nil {
			return err
		}
		greeting = append(greeting, BroadcastEnvelope(join.Topic, event, payload))
	}
	joinEnv := JoinEnvelope(join.Topic, join.PresenceKey, creds.AccessToken, joinRef)

	c.teardown()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.state = ConnectionState{Status: StatusConnecting}
	c.channelID = join.Topic
	c.mu.Unlock()

	glog.Infof("realtime: connecting %s to %s", join.Topic, redactQuery(wsURL))

	t, err := c.dialer.Dial(ctx, wsURL)
	if err != nil {
		c.settle(gen, ConnectionState{Status: StatusDisconnected})
		var e *Error
		if errors.As(err, &e) {
			return e
		}
		return networkError(err, "connect %s", join.Topic)
	}

	queue := make(chan Envelope, c.cfg.QueueCapacity)
	stop := make(chan struct{})
	done := make(chan struct{})
	ticker := c.clock.Ticker(c.cfg.HeartbeatInterval)
	genCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		cancel()
		ticker.Stop()
		t.Close("superseded")
		return sessionError("connect to %s superseded", join.Topic)
	}
	c.state = ConnectionState{Status: StatusConnected}
	c.queue = queue
	c.stop = stop
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	glog.Infof("realtime: connected %s", join.Topic)

	var remaining atomic.Int32
	remaining.Store(2)
	exit := func() {
		if remaining.Add(-1) == 0 {
			close(done)
		}
	}

	w := &generation{
		gen:    gen,
		topic:  join.Topic,
		t:      t,
		queue:  queue,
		stop:   stop,
		ctx:    genCtx,
		cancel: cancel,
		exit:   exit,
	}
	go c.readLoop(w)
	go c.writeLoop(w, ticker, joinEnv, greeting)
	return nil
}

// generation is the per-Connect state shared by the two goroutines.
type generation struct {
	gen    uint64
	topic  string
	t      Transport
	queue  chan Envelope
	stop   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	exit   func()
}

func (g *generation) stopped() bool {
	select {
	case <-g.stop:
		return true
	default:
		return false
	}
}

// Sender returns a handle that enqueues messages on this connection.
func (c *Conn[M]) Sender() *Sender[M] {
	return &Sender[M]{conn: c}
}

// Send broadcasts msg on the joined topic.
func (c *Conn[M]) Send(msg M) error {
	event, payload, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	c.mu.RLock()
	topic := c.channelID
	c.mu.RUnlock()
	return c.SendEnvelope(BroadcastEnvelope(topic, event, payload))
}

// SendEnvelope enqueues a raw envelope. It never blocks: a saturated queue
// returns ErrQueueFull.
func (c *Conn[M]) SendEnvelope(env Envelope) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.state.Active() || c.queue == nil {
		return sessionError("not connected (%s)", c.state)
	}
	select {
	case c.queue <- env:
		return nil
	default:
		glog.Warningf("realtime: outgoing queue full on %s, rejecting %s", c.channelID, env.Event)
		return ErrQueueFull
	}
}

// Disconnect enqueues farewell broadcasts, marks the connection
// disconnected and stops the current generation. Already queued frames
// are flushed before the transport closes. No consumer callback runs after
// Disconnect returns.
func (c *Conn[M]) Disconnect(farewell ...M) {
	for _, m := range farewell {
		if err := c.Send(m); err != nil {
			glog.Warningf("realtime: farewell on %s not sent: %v", c.ChannelID(), err)
		}
	}
	if c.teardown() {
		glog.Infof("realtime: disconnected %s", c.ChannelID())
	}
}

// teardown stops the live generation, if any, and reports whether there
// was one. A Connect still dialing is superseded. The generation context
// is cancelled FlushTimeout later, which unblocks a write stuck on a
// stalled peer.
func (c *Conn[M]) teardown() bool {
	c.mu.Lock()
	stop, cancel := c.stop, c.cancel
	c.stop, c.cancel = nil, nil
	c.queue = nil
	c.gen++
	if c.state.Status != StatusDisconnected || stop != nil {
		c.state = ConnectionState{Status: StatusDisconnected}
	}
	c.mu.Unlock()

	if stop == nil {
		return false
	}
	close(stop)
	c.clock.AfterFunc(c.cfg.FlushTimeout, cancel)

	// Wait out an in-flight dispatch.
	c.dispatchMu.Lock()
	c.dispatchMu.Unlock()
	return true
}

// settle moves generation gen to st. Writes from an old generation and
// writes over a terminal state are ignored.
func (c *Conn[M]) settle(gen uint64, st ConnectionState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state.terminal() {
		return false
	}
	c.state = st
	if st.terminal() {
		c.queue = nil
	}
	return true
}

func (c *Conn[M]) activeGen(gen uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen == gen && c.state.Active()
}

// ── Subscriptions ────────────────────────────────────────

// Subscribe returns a stream of decoded messages. A subscriber that falls
// behind loses messages rather than stalling the read goroutine. Call
// cancel to release the stream.
func (c *Conn[M]) Subscribe() (<-chan M, func()) {
	ch := make(chan M, c.cfg.QueueCapacity)

	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
		c.subMu.Unlock()
	}
	return ch, cancel
}

func (c *Conn[M]) publish(msg M) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- msg:
		default:
			glog.Warningf("realtime: subscriber on %s is full, dropping message", c.ChannelID())
		}
	}
}

// ── Read loop ────────────────────────────────────────────

func (c *Conn[M]) readLoop(g *generation) {
	defer g.exit()
	defer g.cancel()

	for {
		data, err := g.t.Read(g.ctx)
		if err != nil {
			if g.stopped() {
				return
			}
			if errors.Is(err, ErrTransportClosed) {
				if c.settle(g.gen, ConnectionState{Status: StatusDisconnected}) {
					glog.Infof("realtime: %s closed by server", g.topic)
				}
				return
			}
			if c.settle(g.gen, ConnectionState{Status: StatusError, Reason: err.Error()}) {
				glog.Errorf("realtime: read on %s: %v", g.topic, err)
			}
			return
		}

		env, err := DecodeEnvelope(data)
		if err != nil {
			glog.V(1).Infof("realtime: discarding frame on %s: %v", g.topic, err)
			continue
		}
		glog.V(2).Infof("realtime: <- %s %s", env.Topic, env.Event)

		in, err := ClassifyEnvelope(env)
		if err != nil {
			glog.V(1).Infof("realtime: discarding %s on %s: %v", env.Event, env.Topic, err)
			continue
		}

		c.dispatchMu.Lock()
		if g.stopped() {
			c.dispatchMu.Unlock()
			return
		}
		keep := c.dispatch(g, in)
		c.dispatchMu.Unlock()
		if !keep {
			return
		}
	}
}

// dispatch routes one inbound frame. It returns false when the generation
// must stop reading.
func (c *Conn[M]) dispatch(g *generation, in Inbound) bool {
	switch v := in.(type) {
	case JoinReply:
		if v.Topic != g.topic || v.Ref != joinRef {
			glog.V(2).Infof("realtime: reply %s on %s (ref %s)", v.Status, v.Topic, v.Ref)
			return true
		}
		switch v.Status {
		case replyStatusOK:
			c.mu.Lock()
			if c.gen == g.gen && c.state.Status == StatusConnected {
				c.state = ConnectionState{Status: StatusJoined}
				glog.Infof("realtime: joined %s", g.topic)
			}
			c.mu.Unlock()
		case replyStatusError:
			reason := "join rejected: " + replyReason(v.Response)
			if c.settle(g.gen, ConnectionState{Status: StatusError, Reason: reason}) {
				glog.Warningf("realtime: %s %s", g.topic, reason)
			}
			return false
		}

	case BroadcastFrame:
		msg, err := c.codec.Decode(v.Payload)
		if err != nil {
			glog.V(1).Infof("realtime: discarding %s broadcast on %s: %v", v.Event, v.Topic, err)
			return true
		}
		if c.consumer != nil {
			c.consumer.OnMessage(msg)
		}
		c.publish(msg)

	case PresenceDelta:
		if c.cache != nil {
			for _, id := range v.Joins {
				c.cache.Presence.UpdateFromRealtime(id, true)
			}
			for _, id := range v.Leaves {
				c.cache.Presence.UpdateFromRealtime(id, false)
			}
		}
		if c.consumer != nil {
			c.consumer.OnPresence(v)
		}

	case UnknownEvent:
		glog.V(2).Infof("realtime: ignoring %s on %s", v.Event, v.Topic)
	}
	return true
}

func replyReason(resp json.RawMessage) string {
	var r struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(resp, &r); err == nil && r.Reason != "" {
		return r.Reason
	}
	if len(resp) == 0 {
		return "unknown"
	}
	return string(resp)
}

// ── Write loop ───────────────────────────────────────────

func (c *Conn[M]) writeLoop(g *generation, ticker *clock.Ticker, join Envelope, greeting []Envelope) {
	defer g.exit()
	defer ticker.Stop()

	finish := func() {
		if g.stopped() {
			c.flush(g)
		}
		g.t.Close("client disconnect")
		g.cancel()
	}

	for _, env := range append([]Envelope{join}, greeting...) {
		if err := c.transmit(g.ctx, g, env); err != nil {
			c.writeFailed(g, err)
			return
		}
	}

	for {
		select {
		case <-g.stop:
			finish()
			return
		case <-g.ctx.Done():
			finish()
			return
		case env := <-g.queue:
			if err := c.transmit(g.ctx, g, env); err != nil {
				c.writeFailed(g, err)
				return
			}
		case <-ticker.C:
			if err := c.transmit(g.ctx, g, HeartbeatEnvelope()); err != nil {
				c.writeFailed(g, err)
				return
			}
		}

		if !c.activeGen(g.gen) {
			finish()
			return
		}
	}
}

func (c *Conn[M]) writeFailed(g *generation, err error) {
	if g.stopped() {
		g.t.Close("client disconnect")
		g.cancel()
		return
	}
	if c.settle(g.gen, ConnectionState{Status: StatusError, Reason: "write failed: " + err.Error()}) {
		glog.Errorf("realtime: write on %s: %v", g.topic, err)
	}
	g.t.Close("write failed")
	g.cancel()
}

// flush transmits what is already queued, bounded by FlushTimeout.
func (c *Conn[M]) flush(g *generation) {
	ctx, cancel := context.WithTimeout(g.ctx, c.cfg.FlushTimeout)
	defer cancel()
	for {
		select {
		case env := <-g.queue:
			if err := c.transmit(ctx, g, env); err != nil {
				glog.Warningf("realtime: flush on %s: %v", g.topic, err)
				return
			}
		default:
			return
		}
	}
}

func (c *Conn[M]) transmit(ctx context.Context, g *generation, env Envelope) error {
	data, err := EncodeEnvelope(env)
	if err != nil {
		glog.Warningf("realtime: dropping unencodable %s on %s: %v", env.Event, env.Topic, err)
		return nil
	}
	glog.V(2).Infof("realtime: -> %s %s", env.Topic, env.Event)
	return g.t.Write(ctx, data)
}

// ============================================================================
// Sender
// ============================================================================

// Sender enqueues messages on a Conn. It is safe to share between
// goroutines.
type Sender[M any] struct {
	conn *Conn[M]
}

func (s *Sender[M]) Send(msg M) error {
	return s.conn.Send(msg)
}

// SendEnvelope enqueues a raw envelope.
func (s *Sender[M]) SendEnvelope(env Envelope) error {
	return s.conn.SendEnvelope(env)
}
