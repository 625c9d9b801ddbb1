// Package types defines the websocket envelope: a discriminated {type, ...} frame
// decoded once at the boundary into one concrete inbound message.
package types

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
)

type InboundType string

const (
	InPing             InboundType = "ping"
	InStatus           InboundType = "status"
	InChat             InboundType = "chat"
	InSendGift         InboundType = "send_gift"
	InHelpAction       InboundType = "help_action"
	InJoinRoom         InboundType = "join_room"
	InLeaveRoom        InboundType = "leave_room"
	InBroadcast        InboundType = "broadcast"
	InGetOnlineFriends InboundType = "get_online_friends"
)

// Inbound is implemented only by the message structs in this file.
type Inbound interface{ inbound() InboundType }

type Ping struct {
	SentAt int64 `json:"sent_at,omitempty"`
}

type StatusUpdate struct {
	Status string `json:"status"`
}

type Chat struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type SendGift struct {
	To   string          `json:"to"`
	Gift json.RawMessage `json:"gift"`
}

type HelpAction struct {
	To     string          `json:"to"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type JoinRoom struct {
	Room string `json:"room"`
}

type LeaveRoom struct {
	Room string `json:"room"`
}

type Broadcast struct {
	Room string          `json:"room"`
	Data json.RawMessage `json:"data"`
	// IncludeSelf overrides the hub default for echoing to the sender.
	IncludeSelf *bool `json:"include_self,omitempty"`
}

type GetOnlineFriends struct{}

func (Ping) inbound() InboundType             { return InPing }
func (StatusUpdate) inbound() InboundType     { return InStatus }
func (Chat) inbound() InboundType             { return InChat }
func (SendGift) inbound() InboundType         { return InSendGift }
func (HelpAction) inbound() InboundType       { return InHelpAction }
func (JoinRoom) inbound() InboundType         { return InJoinRoom }
func (LeaveRoom) inbound() InboundType        { return InLeaveRoom }
func (Broadcast) inbound() InboundType        { return InBroadcast }
func (GetOnlineFriends) inbound() InboundType { return InGetOnlineFriends }

// TypeOf reports the wire type of a decoded message.
func TypeOf(m Inbound) InboundType { return m.inbound() }

const MaxChatLength = 2000

// Decode parses and validates one inbound frame. Every failure is a ProtocolError.
func Decode(data []byte) (Inbound, error) {
	const op = "types.Decode"

	var head struct {
		Type InboundType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, apperr.Protocol(op, "malformed frame: %v", err)
	}

	var msg Inbound
	switch head.Type {
	case InPing:
		msg = &Ping{}
	case InStatus:
		msg = &StatusUpdate{}
	case InChat:
		msg = &Chat{}
	case InSendGift:
		msg = &SendGift{}
	case InHelpAction:
		msg = &HelpAction{}
	case InJoinRoom:
		msg = &JoinRoom{}
	case InLeaveRoom:
		msg = &LeaveRoom{}
	case InBroadcast:
		msg = &Broadcast{}
	case InGetOnlineFriends:
		return GetOnlineFriends{}, nil
	case "":
		return nil, apperr.Protocol(op, "frame has no type")
	default:
		return nil, apperr.Protocol(op, "unknown message type %q", head.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, apperr.Protocol(op, "malformed %s frame: %v", head.Type, err)
	}
	return validate(msg)
}

func validate(msg Inbound) (Inbound, error) {
	const op = "types.Decode"
	missing := func(field string) error {
		return apperr.Protocol(op, "%s frame requires %q", msg.inbound(), field)
	}

	switch m := msg.(type) {
	case *Ping:
		return *m, nil
	case *StatusUpdate:
		if m.Status == "" {
			return nil, missing("status")
		}
		return *m, nil
	case *Chat:
		m.Message = strings.TrimSpace(m.Message)
		if m.To == "" {
			return nil, missing("to")
		}
		if m.Message == "" {
			return nil, missing("message")
		}
		if len(m.Message) > MaxChatLength {
			return nil, apperr.Protocol(op, "chat message exceeds %d bytes", MaxChatLength)
		}
		return *m, nil
	case *SendGift:
		if m.To == "" {
			return nil, missing("to")
		}
		if isEmptyJSON(m.Gift) {
			return nil, missing("gift")
		}
		return *m, nil
	case *HelpAction:
		if m.To == "" {
			return nil, missing("to")
		}
		if m.Action == "" {
			return nil, missing("action")
		}
		return *m, nil
	case *JoinRoom:
		if m.Room == "" {
			return nil, missing("room")
		}
		return *m, nil
	case *LeaveRoom:
		if m.Room == "" {
			return nil, missing("room")
		}
		return *m, nil
	case *Broadcast:
		if m.Room == "" {
			return nil, missing("room")
		}
		if isEmptyJSON(m.Data) {
			return nil, missing("data")
		}
		return *m, nil
	}
	return msg, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
