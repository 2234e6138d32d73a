package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *BBoltDB {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "chat.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// clock hands out strictly increasing millisecond timestamps.
func withClock(db *BBoltDB, start int64) {
	ms := start
	db.now = func() time.Time {
		ms++
		return time.UnixMilli(ms)
	}
}

func next[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()
	select {
	case snap, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	var zero T
	return zero
}

func TestRoomKey(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"Zed", "amy"},
		{"same", "same"},
		{"", "x"},
		{"a_b", "c"},
	}
	for _, p := range pairs {
		assert.Equal(t, RoomKey(p[0], p[1]), RoomKey(p[1], p[0]), "pair %v", p)
	}
	assert.Equal(t, "alice_bob", RoomKey("bob", "alice"))
}

func TestParseMessageType(t *testing.T) {
	assert.Equal(t, TypeText, ParseMessageType(""))
	assert.Equal(t, TypeText, ParseMessageType("sticker"))
	assert.Equal(t, TypeClearChat, ParseMessageType("clear_chat"))
	assert.Equal(t, TypeDeleteUser, ParseMessageType("delete_user"))
	assert.Equal(t, TypeTyping, ParseMessageType("typing"))
}

func TestSaveMessageCreatesAndUpdatesRoom(t *testing.T) {
	db := newTestDB(t)
	withClock(db, 1000)

	require.NoError(t, db.SaveMessage(&Message{Sender: "bob", Receiver: "alice", Body: "hi"}))
	require.NoError(t, db.SaveMessage(&Message{Sender: "alice", Receiver: "bob", Body: "hey", IsMine: true}))

	msgs, err := db.GetMessages("alice", "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Body)
	assert.False(t, msgs[0].IsMine)
	assert.Equal(t, "hey", msgs[1].Body)
	assert.True(t, msgs[1].IsMine)
	assert.Equal(t, StatusSent, msgs[0].Status)
	assert.Equal(t, "alice_bob", msgs[0].RoomKey)
	assert.NotEmpty(t, msgs[0].ID)

	rooms, err := db.GetRooms("alice")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "bob", rooms[0].Peer)
	assert.Equal(t, "hey", rooms[0].LastMessage)
	assert.Equal(t, msgs[1].Timestamp, rooms[0].Updated)
}

func TestMessagesAreOrderedByTimestamp(t *testing.T) {
	db := newTestDB(t)

	for _, ts := range []int64{30, 10, 20} {
		require.NoError(t, db.SaveMessage(&Message{
			Sender: "a", Receiver: "b", Body: "m", Timestamp: ts,
		}))
	}
	msgs, err := db.GetMessages("b", "a")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []int64{10, 20, 30}, []int64{msgs[0].Timestamp, msgs[1].Timestamp, msgs[2].Timestamp})
}

func TestTypingIsNeverPersisted(t *testing.T) {
	db := newTestDB(t)

	err := db.SaveMessage(&Message{Sender: "a", Receiver: "b", Body: "typing", Type: TypeTyping})
	assert.ErrorIs(t, err, ErrTypingNotPersisted)

	msgs, err := db.GetMessages("a", "b")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestNonTextMessagesDoNotCreateRooms(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.SaveMessage(&Message{Sender: "a", Receiver: "b", Body: ChatCleared, Type: TypeClearChat}))

	rooms, err := db.GetRooms("a")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestRoomsOrderedByMostRecent(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.SaveMessage(&Message{Sender: "me", Receiver: "old", Body: "1", Timestamp: 100, IsMine: true}))
	require.NoError(t, db.SaveMessage(&Message{Sender: "new", Receiver: "me", Body: "2", Timestamp: 300}))
	require.NoError(t, db.SaveMessage(&Message{Sender: "me", Receiver: "mid", Body: "3", Timestamp: 200, IsMine: true}))
	require.NoError(t, db.SaveMessage(&Message{Sender: "x", Receiver: "y", Body: "other", Timestamp: 400}))

	rooms, err := db.GetRooms("me")
	require.NoError(t, err)
	require.Len(t, rooms, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{rooms[0].Peer, rooms[1].Peer, rooms[2].Peer})
}

func TestClearRoom(t *testing.T) {
	db := newTestDB(t)
	withClock(db, 5000)

	require.NoError(t, db.SaveMessage(&Message{Sender: "a", Receiver: "b", Body: "one", IsMine: true}))
	require.NoError(t, db.SaveMessage(&Message{Sender: "b", Receiver: "a", Body: "two"}))
	require.NoError(t, db.SaveMessage(&Message{Sender: "a", Receiver: "c", Body: "keep", IsMine: true}))

	audit := &Message{Sender: "b", Receiver: "a", Body: ChatCleared, Type: TypeClearChat}
	require.NoError(t, db.ClearRoom("a", "b", audit))

	msgs, err := db.GetMessages("a", "b")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, TypeClearChat, msgs[0].Type)

	rooms, err := db.GetRooms("a")
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "b", rooms[0].Peer)
	assert.Equal(t, ChatCleared, rooms[0].LastMessage)

	other, err := db.GetMessages("a", "c")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	chats, roomCount, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, chats)
	assert.Equal(t, 2, roomCount)
}

func TestDeleteUserRoom(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.SaveMessage(&Message{Sender: "a", Receiver: "b", Body: "one", IsMine: true}))
	require.NoError(t, db.SaveMessage(&Message{Sender: "b", Receiver: "a", Body: "two"}))
	require.NoError(t, db.SaveMessage(&Message{Sender: "c", Receiver: "a", Body: "keep"}))

	require.NoError(t, db.DeleteUserRoom("b", "a"))

	msgs, err := db.GetMessages("a", "b")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	rooms, err := db.GetRooms("a")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "c", rooms[0].Peer)

	for _, r := range rooms {
		assert.NotEqual(t, RoomKey("a", "b"), r.RoomKey)
	}
}

func TestUpdateStatusAndDeleteMessage(t *testing.T) {
	db := newTestDB(t)

	msg := &Message{Sender: "a", Receiver: "b", Body: "x", IsMine: true}
	require.NoError(t, db.SaveMessage(msg))
	require.NoError(t, db.UpdateMessageStatus(msg.ID, "read"))

	msgs, err := db.GetMessages("a", "b")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "read", msgs[0].Status)

	require.NoError(t, db.DeleteMessage(msg.ID))
	msgs, err = db.GetMessages("a", "b")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	err = db.DeleteMessage(msg.ID)
	assert.IsType(t, DataNotFoundError{}, err)
}

func TestSession(t *testing.T) {
	db := newTestDB(t)

	s, err := db.GetSession()
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, db.SaveSession(Session{Username: "alice", AccessToken: "tok"}))
	s, err = db.GetSession()
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, "tok", s.AccessToken)
	assert.NotZero(t, s.SavedAt)

	require.NoError(t, db.ClearSession())
	s, err = db.GetSession()
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestObserveMessages(t *testing.T) {
	db := newTestDB(t)

	sub := db.ObserveMessages("a", "b")
	defer sub.Close()
	assert.Empty(t, next(t, sub))

	require.NoError(t, db.SaveMessage(&Message{Sender: "b", Receiver: "a", Body: "hi"}))
	snap := next(t, sub)
	require.Len(t, snap, 1)
	assert.Equal(t, "hi", snap[0].Body)

	// A write to another room must not wake this query.
	require.NoError(t, db.SaveMessage(&Message{Sender: "c", Receiver: "a", Body: "elsewhere"}))
	select {
	case s := <-sub.C():
		t.Fatalf("unexpected snapshot %v", s)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, db.ClearRoom("a", "b", nil))
	assert.Empty(t, next(t, sub))
}

func TestObserveRooms(t *testing.T) {
	db := newTestDB(t)

	sub := db.ObserveRooms("a")
	assert.Empty(t, next(t, sub))

	require.NoError(t, db.SaveMessage(&Message{Sender: "b", Receiver: "a", Body: "hi", Timestamp: 10}))
	rooms := next(t, sub)
	require.Len(t, rooms, 1)
	assert.Equal(t, "hi", rooms[0].LastMessage)

	require.NoError(t, db.DeleteUserRoom("a", "b"))
	assert.Empty(t, next(t, sub))

	sub.Close()
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestSlowObserverSeesLatestSnapshot(t *testing.T) {
	db := newTestDB(t)

	sub := db.ObserveMessages("a", "b")
	defer sub.Close()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, db.SaveMessage(&Message{Sender: "a", Receiver: "b", Body: "m", Timestamp: i}))
	}
	snap := next(t, sub)
	assert.Len(t, snap, 5)
}

func TestCloseReleasesSubscriptions(t *testing.T) {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "chat.db"), nil)
	require.NoError(t, err)

	sub := db.ObserveRooms("a")
	next(t, sub)
	require.NoError(t, db.Close())

	_, ok := <-sub.C()
	assert.False(t, ok)
	sub.Close()
}
