// Package db is the local message and room store. Records live in a bbolt
// file and every write runs in a single bbolt transaction, so observers only
// ever see committed states.
package db

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Bucket names.
const (
	CHATS     = "Chats"
	CHATINDEX = "ChatIndex"
	ROOMS     = "Rooms"
	SESSION   = "Session"
)

const (
	// ChatCleared is the room summary written when a conversation is cleared.
	ChatCleared = "Chat cleared"

	StatusSent = "sent"

	sessionKey = "current"
)

type MessageType string

const (
	TypeText       MessageType = "text"
	TypeClearChat  MessageType = "clear_chat"
	TypeDeleteUser MessageType = "delete_user"
	TypeTyping     MessageType = "typing"
)

// ParseMessageType maps a wire type onto a known MessageType. Empty and
// unknown values fall back to text, which is what peers predating typed
// messages send.
func ParseMessageType(s string) MessageType {
	switch t := MessageType(s); t {
	case TypeText, TypeClearChat, TypeDeleteUser, TypeTyping:
		return t
	default:
		return TypeText
	}
}

type (
	UserName = string
	RoomID   = string
)

// Message is one chat event as stored locally. IsMine never leaves the
// device.
type Message struct {
	ID        string      `codec:"id"`
	RoomKey   RoomID      `codec:"room_id"`
	Sender    UserName    `codec:"sender_username"`
	Receiver  UserName    `codec:"receiver_username"`
	Body      string      `codec:"message"`
	Type      MessageType `codec:"type"`
	Timestamp int64       `codec:"timestamp"`
	Status    string      `codec:"status"`
	IsMine    bool        `codec:"is_mine"`
}

// Peer is the other participant from the local user's point of view.
func (m *Message) Peer() UserName {
	if m.IsMine {
		return m.Receiver
	}
	return m.Sender
}

// Room summarises the conversation with one peer.
type Room struct {
	ID          string   `codec:"id"`
	RoomKey     RoomID   `codec:"room_id"`
	Peer        UserName `codec:"user_id"`
	LastMessage string   `codec:"last_msg"`
	Updated     int64    `codec:"updated"`
}

// HasParticipant reports whether user is one of the two ends of the room.
func (r *Room) HasParticipant(user UserName) bool {
	return r.Peer == user || RoomKey(user, r.Peer) == r.RoomKey
}

// Session is the persisted auth credential of the local user.
type Session struct {
	Username    UserName `codec:"username"`
	AccessToken string   `codec:"access_token"`
	SavedAt     int64    `codec:"saved_at"`
}

// RoomKey derives the conversation key for two users. Both ends compute the
// same key regardless of argument order.
func RoomKey(a, b UserName) RoomID {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

func newID() string {
	return uuid.NewString()
}
