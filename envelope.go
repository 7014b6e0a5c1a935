package pairux

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
)

// ============================================================================
// Wire Envelope
// ============================================================================

// Channel protocol event names.
const (
	EventJoin          = "phx_join"
	EventReply         = "phx_reply"
	EventBroadcast     = "broadcast"
	EventPresenceDiff  = "presence_diff"
	EventPresenceState = "presence_state"
	EventHeartbeat     = "heartbeat"
)

const (
	// HeartbeatTopic is the reserved topic heartbeats are sent on.
	HeartbeatTopic = "phoenix"

	// joinRef is the ref attached to the primary join of a connection.
	joinRef = "1"

	replyStatusOK    = "ok"
	replyStatusError = "error"
)

// Envelope is the wire unit exchanged with the pub/sub backend.
type Envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

var emptyObject = json.RawMessage(`{}`)

// EncodeEnvelope serializes an envelope into a text frame.
// A nil payload is sent as an empty object.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if len(env.Payload) == 0 {
		env.Payload = emptyObject
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, decodeError(err, "encode envelope for %q", env.Event)
	}
	return data, nil
}

// DecodeEnvelope parses a text frame. The frame must be a JSON object
// with a non-empty event; a missing or null payload decodes as {}.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, decodeError(err, "malformed frame")
	}
	if env.Event == "" {
		return Envelope{}, decodeError(nil, "frame has no event")
	}
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		env.Payload = emptyObject
	}
	return env, nil
}

// ── Outbound builders ────────────────────────────────────

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token"`
}

type joinConfig struct {
	Broadcast broadcastConfig `json:"broadcast"`
	Presence  *presenceConfig `json:"presence,omitempty"`
}

type broadcastConfig struct {
	Self bool `json:"self"`
}

type presenceConfig struct {
	Key string `json:"key"`
}

type broadcastPayload struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func stringRef(s string) *string {
	return &s
}

// JoinEnvelope builds the join handshake for topic. presenceKey may be
// empty, in which case no presence config is sent.
func JoinEnvelope(topic, presenceKey, accessToken, ref string) Envelope {
	p := joinPayload{AccessToken: accessToken}
	if presenceKey != "" {
		p.Config.Presence = &presenceConfig{Key: presenceKey}
	}
	data, _ := json.Marshal(p)
	return Envelope{
		Topic:   topic,
		Event:   EventJoin,
		Payload: data,
		Ref:     stringRef(ref),
	}
}

// BroadcastEnvelope wraps an application payload for delivery to every
// other member of topic.
func BroadcastEnvelope(topic, event string, payload json.RawMessage) Envelope {
	data, _ := json.Marshal(broadcastPayload{
		Type:    EventBroadcast,
		Event:   event,
		Payload: payload,
	})
	return Envelope{
		Topic:   topic,
		Event:   EventBroadcast,
		Payload: data,
	}
}

// HeartbeatEnvelope builds the keep-alive frame.
func HeartbeatEnvelope() Envelope {
	return Envelope{
		Topic:   HeartbeatTopic,
		Event:   EventHeartbeat,
		Payload: emptyObject,
	}
}

// ============================================================================
// Inbound Classification
// ============================================================================

// Inbound is a decoded inbound envelope. It is one of JoinReply,
// BroadcastFrame, PresenceDelta or UnknownEvent.
type Inbound interface {
	inbound()
}

// JoinReply is a phx_reply.
type JoinReply struct {
	Topic    string
	Ref      string
	Status   string
	Response json.RawMessage
}

// BroadcastFrame carries an application payload still to be decoded.
type BroadcastFrame struct {
	Topic   string
	Event   string
	Payload json.RawMessage
}

// PresenceDelta lists the presence keys that joined or left a topic.
// Full is set for presence_state snapshots.
type PresenceDelta struct {
	Topic  string
	Joins  []string
	Leaves []string
	Full   bool
	Raw    json.RawMessage
}

// UnknownEvent is any event this client does not handle.
type UnknownEvent struct {
	Topic string
	Event string
}

func (JoinReply) inbound()      {}
func (BroadcastFrame) inbound() {}
func (PresenceDelta) inbound()  {}
func (UnknownEvent) inbound()   {}

// ClassifyEnvelope decodes the payload of env according to its event.
func ClassifyEnvelope(env Envelope) (Inbound, error) {
	switch env.Event {
	case EventReply:
		var p struct {
			Status   string          `json:"status"`
			Response json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, decodeError(err, "phx_reply payload")
		}
		ref := ""
		if env.Ref != nil {
			ref = *env.Ref
		}
		return JoinReply{Topic: env.Topic, Ref: ref, Status: p.Status, Response: p.Response}, nil

	case EventBroadcast:
		var p broadcastPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, decodeError(err, "broadcast payload")
		}
		if len(p.Payload) == 0 || bytes.Equal(p.Payload, []byte("null")) {
			return nil, decodeError(nil, "broadcast without payload")
		}
		return BroadcastFrame{Topic: env.Topic, Event: p.Event, Payload: p.Payload}, nil

	case EventPresenceDiff, EventPresenceState:
		return classifyPresence(env)
	}
	return UnknownEvent{Topic: env.Topic, Event: env.Event}, nil
}

func classifyPresence(env Envelope) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(env.Payload, &fields); err != nil {
		return nil, decodeError(err, "%s payload", env.Event)
	}

	delta := PresenceDelta{
		Topic: env.Topic,
		Full:  env.Event == EventPresenceState,
		Raw:   env.Payload,
	}

	joins, hasJoins := fields["joins"]
	leaves, hasLeaves := fields["leaves"]
	if env.Event == EventPresenceState && !hasJoins && !hasLeaves {
		delta.Joins = sortedKeys(fields)
		return delta, nil
	}

	var err error
	if delta.Joins, err = objectKeys(joins); err != nil {
		return nil, decodeError(err, "%s joins", env.Event)
	}
	if delta.Leaves, err = objectKeys(leaves); err != nil {
		return nil, decodeError(err, "%s leaves", env.Event)
	}
	return delta, nil
}

var errNotObject = errors.New("not a JSON object")

func objectKeys(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errNotObject
	}
	return sortedKeys(m), nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
