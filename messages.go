package pairux

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ============================================================================
// Tagged Payload Helpers
// ============================================================================

func encodeTagged(tag string, v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(strconv.Quote(tag))
	return json.Marshal(fields)
}

func peekType(raw json.RawMessage) (string, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", decodeError(err, "payload is not an object")
	}
	if head.Type == nil {
		return "", decodeError(nil, "payload has no type")
	}
	return *head.Type, nil
}

func unknownType(t string) error {
	return &Error{Kind: KindDecode, Message: ErrUnknownMessage.Message, Err: fmt.Errorf("type %q", t)}
}

// ============================================================================
// Signaling Messages
// ============================================================================

// SignalingMessage is one of the WebRTC session signaling variants below.
type SignalingMessage interface {
	// SignalType is the wire discriminator of the variant.
	SignalType() string
}

// Offer is a WebRTC offer sent by the host.
type Offer struct {
	SDP        string `json:"sdp"`
	FromUserID string `json:"from_user_id"`
}

// Answer is a WebRTC answer sent by a viewer.
type Answer struct {
	SDP        string `json:"sdp"`
	FromUserID string `json:"from_user_id"`
}

// IceCandidate is a trickled ICE candidate.
type IceCandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid"`
	SDPMLineIndex *uint32 `json:"sdp_m_line_index"`
	FromUserID    string  `json:"from_user_id"`
}

// ControlRequest asks the host for remote input control.
type ControlRequest struct {
	FromUserID string `json:"from_user_id"`
}

// ControlGrant hands remote input control to a viewer.
type ControlGrant struct {
	ToUserID string `json:"to_user_id"`
}

// ControlRevoke takes remote input control back from a viewer.
type ControlRevoke struct {
	ToUserID string `json:"to_user_id"`
}

// UserJoined announces a participant joining the session.
type UserJoined struct {
	UserID string `json:"user_id"`
	IsHost bool   `json:"is_host"`
}

// UserLeft announces a participant leaving the session.
type UserLeft struct {
	UserID string `json:"user_id"`
}

// SessionChat is an in-session chat line. Timestamp is in milliseconds
// since the Unix epoch.
type SessionChat struct {
	ID           string `json:"id"`
	FromUserID   string `json:"from_user_id"`
	FromUsername string `json:"from_username"`
	Content      string `json:"content"`
	Timestamp    uint64 `json:"timestamp"`
}

const (
	SignalOffer          = "offer"
	SignalAnswer         = "answer"
	SignalIceCandidate   = "ice_candidate"
	SignalControlRequest = "control_request"
	SignalControlGrant   = "control_grant"
	SignalControlRevoke  = "control_revoke"
	SignalUserJoined     = "user_joined"
	SignalUserLeft       = "user_left"
	SignalChatMessage    = "chat_message"
)

func (Offer) SignalType() string          { return SignalOffer }
func (Answer) SignalType() string         { return SignalAnswer }
func (IceCandidate) SignalType() string   { return SignalIceCandidate }
func (ControlRequest) SignalType() string { return SignalControlRequest }
func (ControlGrant) SignalType() string   { return SignalControlGrant }
func (ControlRevoke) SignalType() string  { return SignalControlRevoke }
func (UserJoined) SignalType() string     { return SignalUserJoined }
func (UserLeft) SignalType() string       { return SignalUserLeft }
func (SessionChat) SignalType() string    { return SignalChatMessage }

// signalEventNames maps each variant to the UI event it is emitted as.
var signalEventNames = map[string]string{
	SignalOffer:          "signaling:offer",
	SignalAnswer:         "signaling:answer",
	SignalIceCandidate:   "signaling:ice-candidate",
	SignalControlRequest: "signaling:control-request",
	SignalControlGrant:   "signaling:control-grant",
	SignalControlRevoke:  "signaling:control-revoke",
	SignalUserJoined:     "signaling:user-joined",
	SignalUserLeft:       "signaling:user-left",
	SignalChatMessage:    "signaling:chat-message",
}

// SignalEventName returns the UI event name for msg.
func SignalEventName(msg SignalingMessage) string {
	return signalEventNames[msg.SignalType()]
}

// SignalingCodec encodes signaling messages as "signaling" broadcasts.
type SignalingCodec struct{}

const signalingBroadcastEvent = "signaling"

func (SignalingCodec) Encode(msg SignalingMessage) (string, json.RawMessage, error) {
	data, err := encodeTagged(msg.SignalType(), msg)
	if err != nil {
		return "", nil, decodeError(err, "encode %s", msg.SignalType())
	}
	return signalingBroadcastEvent, data, nil
}

func (SignalingCodec) Decode(raw json.RawMessage) (SignalingMessage, error) {
	t, err := peekType(raw)
	if err != nil {
		return nil, err
	}

	var msg SignalingMessage
	switch t {
	case SignalOffer:
		msg, err = decodeVariant[Offer](raw)
	case SignalAnswer:
		msg, err = decodeVariant[Answer](raw)
	case SignalIceCandidate:
		msg, err = decodeVariant[IceCandidate](raw)
	case SignalControlRequest:
		msg, err = decodeVariant[ControlRequest](raw)
	case SignalControlGrant:
		msg, err = decodeVariant[ControlGrant](raw)
	case SignalControlRevoke:
		msg, err = decodeVariant[ControlRevoke](raw)
	case SignalUserJoined:
		msg, err = decodeVariant[UserJoined](raw)
	case SignalUserLeft:
		msg, err = decodeVariant[UserLeft](raw)
	case SignalChatMessage:
		msg, err = decodeVariant[SessionChat](raw)
	default:
		return nil, unknownType(t)
	}
	if err != nil {
		return nil, decodeError(err, "decode %s", t)
	}
	return msg, nil
}

func decodeVariant[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

// ============================================================================
// Chat Events
// ============================================================================

// ChatEvent is one of NewMessage or PresenceChange.
type ChatEvent interface {
	ChatType() string
}

// NewMessage delivers a chat message posted to a conversation.
type NewMessage struct {
	ChatMessage
}

// PresenceChange reports a user going online or offline.
type PresenceChange struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

const (
	ChatTypeMessage        = "chat_message"
	ChatTypePresenceChange = "presence_change"
)

func (NewMessage) ChatType() string     { return ChatTypeMessage }
func (PresenceChange) ChatType() string { return ChatTypePresenceChange }

// ChatCodec encodes chat events as broadcasts named after their type.
type ChatCodec struct{}

func (ChatCodec) Encode(ev ChatEvent) (string, json.RawMessage, error) {
	data, err := encodeTagged(ev.ChatType(), ev)
	if err != nil {
		return "", nil, decodeError(err, "encode %s", ev.ChatType())
	}
	return ev.ChatType(), data, nil
}

func (ChatCodec) Decode(raw json.RawMessage) (ChatEvent, error) {
	t, err := peekType(raw)
	if err != nil {
		return nil, err
	}

	switch t {
	case ChatTypeMessage:
		m, err := decodeVariant[NewMessage](raw)
		if err != nil {
			return nil, decodeError(err, "decode %s", t)
		}
		return m, nil
	case ChatTypePresenceChange:
		var p struct {
			UserID   *string `json:"user_id"`
			IsOnline *bool   `json:"is_online"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, decodeError(err, "decode %s", t)
		}
		if p.UserID == nil || p.IsOnline == nil {
			return nil, decodeError(nil, "%s requires user_id and is_online", t)
		}
		return PresenceChange{UserID: *p.UserID, IsOnline: *p.IsOnline}, nil
	}
	return nil, unknownType(t)
}
