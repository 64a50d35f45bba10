// Package protocol defines the frames exchanged between the realtime client
// and the presence server over the /realtime websocket.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type MessageType string

const (
	// client → server
	MsgRoomJoin     MessageType = "room:join"
	MsgRoomLeave    MessageType = "room:leave"
	MsgPresencePing MessageType = "presence:ping"
	MsgStatePatch   MessageType = "state:patch"

	// server → client
	MsgConnected      MessageType = "connected"
	MsgPresenceUpdate MessageType = "presence:update"
	MsgStateBroadcast MessageType = "state:broadcast"
)

// ErrUnknownType is returned by Decode for frames whose type is not part of
// the vocabulary above.
var ErrUnknownType = errors.New("unknown message type")

// Message is the envelope of every frame. Payload is kept raw so the server
// can relay state payloads without re-encoding them.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// User is the minimal identity a client announces when joining a room.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type JoinPayload struct {
	SpaceID   string `json:"spaceId"`
	SessionID string `json:"sessionId"`
	User      User   `json:"user"`
}

type LeavePayload struct {
	SpaceID   string `json:"spaceId"`
	SessionID string `json:"sessionId"`
}

// ConnectedPayload acknowledges a logical connect. ID is the socket
// identifier the server uses for this connection in presence updates.
type ConnectedPayload struct {
	OK bool      `json:"ok"`
	TS time.Time `json:"ts"`
	ID string    `json:"id"`
}

// Member is one entry of a presence update. ID is the socket identifier and
// is always set; the remaining fields come from the join payload.
type Member struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId,omitempty"`
	Name     string    `json:"name,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

type PresenceUpdate struct {
	SpaceID string   `json:"spaceId"`
	Count   int      `json:"count"`
	Users   []Member `json:"users"`
}

// Encode marshals payload and wraps it in an envelope of the given type.
// A nil payload produces a frame without a payload field.
func Encode(t MessageType, payload any) ([]byte, error) {
	msg := Message{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		msg.Payload = raw
	}
	return json.Marshal(msg)
}

// EncodeRaw wraps an already encoded payload without touching its bytes.
// encoding/json compacts RawMessage values on Marshal, so relayed state goes
// through here to stay byte-for-byte identical to what the sender wrote.
func EncodeRaw(t MessageType, raw json.RawMessage) ([]byte, error) {
	typ, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(raw) + len(typ) + 24)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if len(raw) > 0 {
		buf.WriteString(`,"payload":`)
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode parses an envelope and rejects unknown message types.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch msg.Type {
	case MsgRoomJoin, MsgRoomLeave, MsgPresencePing, MsgStatePatch,
		MsgConnected, MsgPresenceUpdate, MsgStateBroadcast:
		return msg, nil
	}
	return msg, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
}
