package pairux

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"
	"github.com/google/uuid"
)

// EventSignalingPresence is emitted with the raw presence payload of a
// session channel.
const EventSignalingPresence = "signaling:presence-update"

// SignalingTopic is the channel topic of a screen-sharing session.
func SignalingTopic(sessionID string) string {
	return "realtime:session:" + sessionID
}

// ============================================================================
// Signaling Client
// ============================================================================

// SignalingClient exchanges WebRTC signaling for one session at a time.
type SignalingClient struct {
	conn    *Conn[SignalingMessage]
	tokens  TokenSource
	emitter Emitter
	clock   clock.Clock

	mu        sync.RWMutex
	userID    string
	username  string
	sessionID string
}

// NewSignalingClient creates a disconnected signaling client. Every
// decoded message is emitted through emitter under its signaling:* name.
func NewSignalingClient(cfg Config, tokens TokenSource, cache *AppCache, emitter Emitter, opts ...ConnOption) *SignalingClient {
	s := &SignalingClient{
		tokens:  tokens,
		emitter: emitter,
	}
	o := connOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	s.clock = o.clock
	if s.clock == nil {
		s.clock = clock.New()
	}
	opts = append(opts, WithConnCache(cache), WithConnClock(s.clock))
	s.conn = NewConn[SignalingMessage](cfg, SignalingCodec{}, signalingConsumer{emitter: emitter}, opts...)
	return s
}

type signalingConsumer struct {
	emitter Emitter
}

func (c signalingConsumer) OnMessage(msg SignalingMessage) {
	emit(c.emitter, SignalEventName(msg), msg)
}

func (c signalingConsumer) OnPresence(delta PresenceDelta) {
	emit(c.emitter, EventSignalingPresence, delta.Raw)
}

// Connect joins the session channel as userID and announces the user to
// the other participants. An empty userID falls back to the credentials.
func (s *SignalingClient) Connect(ctx context.Context, sessionID, userID string, isHost bool) error {
	if s.tokens == nil {
		return authError("not authenticated")
	}
	creds, err := s.tokens.Credentials()
	if err != nil {
		return err
	}
	if sessionID == "" {
		return sessionError("session id required")
	}
	if userID == "" {
		userID = creds.UserID
	}
	if userID == "" {
		return authError("user id unknown")
	}

	err = s.conn.Connect(ctx, creds, JoinParams[SignalingMessage]{
		Topic:       SignalingTopic(sessionID),
		PresenceKey: userID,
		Greeting:    []SignalingMessage{UserJoined{UserID: userID, IsHost: isHost}},
	})
	if err != nil {
		// A reconnect that failed after tearing down the previous session
		// leaves nothing joined.
		if !s.conn.State().Active() {
			s.mu.Lock()
			s.userID, s.username, s.sessionID = "", "", ""
			s.mu.Unlock()
		}
		return err
	}

	s.mu.Lock()
	s.userID = userID
	s.username = creds.Username
	s.sessionID = sessionID
	s.mu.Unlock()

	glog.Infof("signaling: connected to session %s as %s (host=%t)", sessionID, userID, isHost)
	return nil
}

// Disconnect tells the other participants this user left and closes the
// channel.
func (s *SignalingClient) Disconnect() {
	s.mu.Lock()
	userID := s.userID
	s.userID = ""
	s.sessionID = ""
	s.mu.Unlock()

	if userID == "" {
		s.conn.Disconnect()
		return
	}
	s.conn.Disconnect(UserLeft{UserID: userID})
}

func (s *SignalingClient) identity() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userID == "" {
		return "", sessionError("not connected to signaling")
	}
	return s.userID, nil
}

// ── Send helpers ─────────────────────────────────────────

// SendOffer sends a WebRTC offer. Hosts only.
func (s *SignalingClient) SendOffer(sdp string) error {
	from, err := s.identity()
	if err != nil {
		return err
	}
	return s.conn.Send(Offer{SDP: sdp, FromUserID: from})
}

// SendAnswer answers the host's offer.
func (s *SignalingClient) SendAnswer(sdp string) error {
	from, err := s.identity()
	if err != nil {
		return err
	}
	return s.conn.Send(Answer{SDP: sdp, FromUserID: from})
}

func (s *SignalingClient) SendIceCandidate(candidate string, sdpMid *string, sdpMLineIndex *uint32) error {
	from, err := s.identity()
	if err != nil {
		return err
	}
	return s.conn.Send(IceCandidate{
		Candidate:     candidate,
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
		FromUserID:    from,
	})
}

// RequestControl asks the host for remote input control.
func (s *SignalingClient) RequestControl() error {
	from, err := s.identity()
	if err != nil {
		return err
	}
	return s.conn.Send(ControlRequest{FromUserID: from})
}

func (s *SignalingClient) GrantControl(toUserID string) error {
	if _, err := s.identity(); err != nil {
		return err
	}
	return s.conn.Send(ControlGrant{ToUserID: toUserID})
}

func (s *SignalingClient) RevokeControl(toUserID string) error {
	if _, err := s.identity(); err != nil {
		return err
	}
	return s.conn.Send(ControlRevoke{ToUserID: toUserID})
}

// SendChatMessage posts an in-session chat line and returns its id.
func (s *SignalingClient) SendChatMessage(content string) (string, error) {
	from, err := s.identity()
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	username := s.username
	s.mu.RUnlock()

	id := uuid.New().String()
	err = s.conn.Send(SessionChat{
		ID:           id,
		FromUserID:   from,
		FromUsername: username,
		Content:      content,
		Timestamp:    uint64(s.clock.Now().UnixMilli()),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ── Status ───────────────────────────────────────────────

// Status reports the state of the session channel.
func (s *SignalingClient) Status() ConnectionState {
	return s.conn.State()
}

// IsConnected reports whether the channel accepts sends.
func (s *SignalingClient) IsConnected() bool {
	return s.conn.State().Active()
}

// SessionID returns the joined session, or "".
func (s *SignalingClient) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Subscribe streams decoded signaling messages in addition to emitted
// events.
func (s *SignalingClient) Subscribe() (<-chan SignalingMessage, func()) {
	return s.conn.Subscribe()
}

// Done is closed when the current connection has fully shut down.
func (s *SignalingClient) Done() <-chan struct{} {
	return s.conn.Done()
}
