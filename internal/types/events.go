package types

import (
	"encoding/json"
	"time"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
)

type EventType string

const (
	EvConnected             EventType = "connected"
	EvPong                  EventType = "pong"
	EvStatusChange          EventType = "status_change"
	EvChatMessage           EventType = "chat_message"
	EvFriendRequest         EventType = "friend_request"
	EvFriendRequestAccepted EventType = "friend_request_accepted"
	EvGiftReceived          EventType = "gift_received"
	EvHelpReceived          EventType = "help_received"
	EvFarmVisited           EventType = "farm_visited"
	EvBroadcastMessage      EventType = "broadcast_message"
	EvGuildMemberJoined     EventType = "guild_member_joined"
	EvGuildLevelUp          EventType = "guild_level_up"
	EvGuildKicked           EventType = "guild_kicked"
	EvGuildJoinAccepted     EventType = "guild_join_accepted"
	EvRoomJoined            EventType = "room_joined"
	EvRoomLeft              EventType = "room_left"
	EvRoomJoin              EventType = "room_join"
	EvRoomLeave             EventType = "room_leave"
	EvOnlineFriends         EventType = "online_friends"
	EvError                 EventType = "error"
)

// notifiable lists the events external collaborators may push through the hub.
var notifiable = map[EventType]bool{
	EvFriendRequest:         true,
	EvFriendRequestAccepted: true,
	EvGiftReceived:          true,
	EvHelpReceived:          true,
	EvFarmVisited:           true,
	EvGuildMemberJoined:     true,
	EvGuildLevelUp:          true,
	EvGuildKicked:           true,
	EvGuildJoinAccepted:     true,
	EvBroadcastMessage:      true,
}

// Event is one outbound frame. Fields not relevant to Type stay empty.
type Event struct {
	Type         EventType       `json:"type"`
	ConnectionID string          `json:"connection_id,omitempty"`
	OnlineCount  int             `json:"online_count,omitempty"`
	From         string          `json:"from,omitempty"`
	FromName     string          `json:"from_name,omitempty"`
	Identity     string          `json:"identity,omitempty"`
	Room         string          `json:"room,omitempty"`
	Members      []string        `json:"members,omitempty"`
	Status       string          `json:"status,omitempty"`
	Message      string          `json:"message,omitempty"`
	Action       string          `json:"action,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Friends      []string        `json:"friends,omitempty"`
	Code         string          `json:"code,omitempty"`
	SentAt       int64           `json:"sent_at,omitempty"`
	Timestamp    int64           `json:"timestamp"`
}

// MarshalJSON writes the friends array on every online_friends event, even when
// nobody is online.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if e.Type != EvOnlineFriends {
		return json.Marshal(plain(e))
	}
	friends := e.Friends
	if friends == nil {
		friends = []string{}
	}
	return json.Marshal(struct {
		plain
		Friends []string `json:"friends"`
	}{plain(e), friends})
}

func stamp(e Event) Event {
	e.Timestamp = time.Now().UnixMilli()
	return e
}

func Connected(connectionID string, onlineCount int) Event {
	return stamp(Event{Type: EvConnected, ConnectionID: connectionID, OnlineCount: onlineCount})
}

func Pong(sentAt int64) Event {
	return stamp(Event{Type: EvPong, SentAt: sentAt})
}

func StatusChange(identity, status string) Event {
	return stamp(Event{Type: EvStatusChange, Identity: identity, Status: status})
}

func ChatMessage(from, fromName, message string) Event {
	return stamp(Event{Type: EvChatMessage, From: from, FromName: fromName, Message: message})
}

func GiftReceived(from, fromName string, gift json.RawMessage) Event {
	return stamp(Event{Type: EvGiftReceived, From: from, FromName: fromName, Data: gift})
}

func HelpReceived(from, fromName, action string, data json.RawMessage) Event {
	return stamp(Event{Type: EvHelpReceived, From: from, FromName: fromName, Action: action, Data: data})
}

func BroadcastMessage(from, fromName, room string, data json.RawMessage) Event {
	return stamp(Event{Type: EvBroadcastMessage, From: from, FromName: fromName, Room: room, Data: data})
}

func RoomJoined(room string, members []string) Event {
	return stamp(Event{Type: EvRoomJoined, Room: room, Members: members})
}

func RoomLeft(room string) Event {
	return stamp(Event{Type: EvRoomLeft, Room: room})
}

func RoomJoin(room, identity, name string) Event {
	return stamp(Event{Type: EvRoomJoin, Room: room, Identity: identity, FromName: name})
}

func RoomLeave(room, identity string) Event {
	return stamp(Event{Type: EvRoomLeave, Room: room, Identity: identity})
}

func OnlineFriends(friends []string) Event {
	return stamp(Event{Type: EvOnlineFriends, Friends: friends})
}

// Error builds an error reply from any error, using its apperr kind as the code.
func Error(err error) Event {
	return stamp(Event{Type: EvError, Code: string(apperr.KindOf(err)), Message: apperr.Message(err)})
}

func ErrorCode(code, message string) Event {
	return stamp(Event{Type: EvError, Code: code, Message: message})
}

// Notification validates a server-originated event pushed by an external collaborator.
func Notification(t EventType, from string, data json.RawMessage) (Event, error) {
	if !notifiable[t] {
		return Event{}, apperr.Protocol("types.Notification", "event type %q cannot be pushed", t)
	}
	return stamp(Event{Type: t, From: from, Data: data}), nil
}
