package db

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ugorji/go/codec"
	"go.etcd.io/bbolt"
)

var JSONHandle codec.JsonHandle

// BBoltDB is the local store. Every mutating call is one bbolt transaction
// and live queries are refreshed only after that transaction commits.
type BBoltDB struct {
	db     *bbolt.DB
	logger *slog.Logger
	watch  *watchers
	now    func() time.Time
}

func NewDatabase(path string, logger *slog.Logger) (*BBoltDB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bdb, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{CHATS, CHATINDEX, ROOMS, SESSION} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return BucketNotFoundError{name}
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	db := &BBoltDB{
		db:     bdb,
		logger: logger,
		now:    time.Now,
	}
	db.watch = newWatchers(logger)
	return db, nil
}

// Close releases every live query and closes the file.
func (db *BBoltDB) Close() error {
	db.watch.closeAll()
	return db.db.Close()
}

// update runs fn in a write transaction and refreshes the matching live
// queries once it has committed.
func (db *BBoltDB) update(fn func(tx *bbolt.Tx, c *change) error) error {
	c := newChange()
	if err := db.db.Update(func(tx *bbolt.Tx) error {
		return fn(tx, c)
	}); err != nil {
		return err
	}
	db.watch.publish(c)
	return nil
}

func (db *BBoltDB) millis() int64 {
	return db.now().UnixMilli()
}

// SaveMessage stores msg and, for text messages, creates or refreshes the
// room summary for the peer. Both writes commit together.
func (db *BBoltDB) SaveMessage(msg *Message) error {
	if msg.Type == "" {
		msg.Type = TypeText
	}
	if msg.Type == TypeTyping {
		return ErrTypingNotPersisted
	}
	db.fillMessage(msg)

	return db.update(func(tx *bbolt.Tx, c *change) error {
		if err := putMessage(tx, msg); err != nil {
			return err
		}
		c.touchMessages(msg.RoomKey)

		if msg.Type != TypeText {
			return nil
		}
		if err := touchRoom(tx, msg.RoomKey, msg.Peer(), msg.Body, msg.Timestamp); err != nil {
			return err
		}
		c.touchRooms()
		return nil
	})
}

func (db *BBoltDB) fillMessage(msg *Message) {
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.RoomKey == "" {
		msg.RoomKey = RoomKey(msg.Sender, msg.Receiver)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = db.millis()
	}
	if msg.Status == "" {
		msg.Status = StatusSent
	}
}

// ClearRoom drops every message between a and b and marks each room record
// for the pair as cleared. A non-nil audit message is stored afterwards in
// the same transaction.
func (db *BBoltDB) ClearRoom(a, b UserName, audit *Message) error {
	key := RoomKey(a, b)
	now := db.millis()
	if audit != nil {
		if audit.Type == TypeTyping {
			return ErrTypingNotPersisted
		}
		audit.RoomKey = key
		if audit.Type == "" {
			audit.Type = TypeClearChat
		}
		db.fillMessage(audit)
	}

	return db.update(func(tx *bbolt.Tx, c *change) error {
		if err := deleteRoomMessages(tx, key); err != nil {
			return err
		}
		c.touchMessages(key)

		rooms := tx.Bucket([]byte(ROOMS))
		prefix := roomPrefix(key)
		var cleared []Room
		cur := rooms.Cursor()
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			var room Room
			if err := decode(v, &room); err != nil {
				return err
			}
			room.LastMessage = ChatCleared
			room.Updated = now
			cleared = append(cleared, room)
		}
		for i := range cleared {
			if err := putRoom(tx, &cleared[i]); err != nil {
				return err
			}
		}
		if len(cleared) > 0 {
			c.touchRooms()
		}

		if audit != nil {
			return putMessage(tx, audit)
		}
		return nil
	})
}

// DeleteUserRoom removes every message and every room record for a and b.
func (db *BBoltDB) DeleteUserRoom(a, b UserName) error {
	key := RoomKey(a, b)
	return db.update(func(tx *bbolt.Tx, c *change) error {
		if err := deleteRoomMessages(tx, key); err != nil {
			return err
		}
		c.touchMessages(key)

		rooms := tx.Bucket([]byte(ROOMS))
		keys := prefixKeys(rooms, roomPrefix(key))
		for _, k := range keys {
			if err := rooms.Delete(k); err != nil {
				return DeleteDataError{string(k), ROOMS, err.Error()}
			}
		}
		c.touchRooms()
		return nil
	})
}

// GetMessages returns the conversation between a and b, oldest first.
func (db *BBoltDB) GetMessages(a, b UserName) ([]Message, error) {
	key := RoomKey(a, b)
	messages := []Message{}
	err := db.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(CHATS))
		if bucket == nil {
			return BucketNotFoundError{CHATS}
		}
		prefix := roomPrefix(key)
		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var msg Message
			if err := decode(v, &msg); err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// GetRooms returns the rooms user takes part in, most recently updated first.
func (db *BBoltDB) GetRooms(user UserName) ([]Room, error) {
	rooms := []Room{}
	err := db.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ROOMS))
		if bucket == nil {
			return BucketNotFoundError{ROOMS}
		}
		return bucket.ForEach(func(_, v []byte) error {
			var room Room
			if err := decode(v, &room); err != nil {
				return err
			}
			if room.HasParticipant(user) {
				rooms = append(rooms, room)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].Updated != rooms[j].Updated {
			return rooms[i].Updated > rooms[j].Updated
		}
		return rooms[i].RoomKey < rooms[j].RoomKey
	})
	return rooms, nil
}

// UpdateMessageStatus changes the delivery status of a stored message. It is
// the only field that changes after a message is written.
func (db *BBoltDB) UpdateMessageStatus(id, status string) error {
	return db.update(func(tx *bbolt.Tx, c *change) error {
		chats := tx.Bucket([]byte(CHATS))
		ref := tx.Bucket([]byte(CHATINDEX)).Get([]byte(id))
		if ref == nil {
			return DataNotFoundError{id, CHATINDEX}
		}
		data := chats.Get(ref)
		if data == nil {
			return DataNotFoundError{string(ref), CHATS}
		}
		var msg Message
		if err := decode(data, &msg); err != nil {
			return err
		}
		msg.Status = status
		if err := putMessage(tx, &msg); err != nil {
			return err
		}
		c.touchMessages(msg.RoomKey)
		return nil
	})
}

// DeleteMessage removes a single message. Room summaries are left alone.
func (db *BBoltDB) DeleteMessage(id string) error {
	return db.update(func(tx *bbolt.Tx, c *change) error {
		index := tx.Bucket([]byte(CHATINDEX))
		ref := index.Get([]byte(id))
		if ref == nil {
			return DataNotFoundError{id, CHATINDEX}
		}
		ref = append([]byte(nil), ref...)

		if err := tx.Bucket([]byte(CHATS)).Delete(ref); err != nil {
			return DeleteDataError{string(ref), CHATS, err.Error()}
		}
		if err := index.Delete([]byte(id)); err != nil {
			return DeleteDataError{id, CHATINDEX, err.Error()}
		}
		c.touchMessages(roomFromChatKey(ref))
		return nil
	})
}

// Stats reports how many messages and rooms are stored.
func (db *BBoltDB) Stats() (chats, rooms int, err error) {
	err = db.db.View(func(tx *bbolt.Tx) error {
		chats = tx.Bucket([]byte(CHATS)).Stats().KeyN
		rooms = tx.Bucket([]byte(ROOMS)).Stats().KeyN
		return nil
	})
	return chats, rooms, err
}

// SaveSession persists the auth credential, replacing any previous one.
func (db *BBoltDB) SaveSession(session Session) error {
	if session.SavedAt == 0 {
		session.SavedAt = db.millis()
	}
	return db.db.Update(func(tx *bbolt.Tx) error {
		data, err := encode(session)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(SESSION)).Put([]byte(sessionKey), data); err != nil {
			return PutDataError{sessionKey, SESSION, err.Error()}
		}
		return nil
	})
}

// GetSession returns the stored credential, or nil when nobody is logged in.
func (db *BBoltDB) GetSession() (*Session, error) {
	var session *Session
	err := db.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(SESSION)).Get([]byte(sessionKey))
		if data == nil {
			return nil
		}
		session = &Session{}
		return decode(data, session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (db *BBoltDB) ClearSession() error {
	return db.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(SESSION)).Delete([]byte(sessionKey)); err != nil {
			return DeleteDataError{sessionKey, SESSION, err.Error()}
		}
		return nil
	})
}

// ----------------------------- DB Helper Funcs -----------------------------

// Chat keys sort by room, then timestamp, then id, so a prefix scan over a
// room yields its messages in timestamp order.
func chatKey(msg *Message) []byte {
	return []byte(fmt.Sprintf("%s\x00%020d-%s", msg.RoomKey, msg.Timestamp, msg.ID))
}

func roomKeyFor(room *Room) []byte {
	return []byte(room.RoomKey + "\x00" + room.Peer)
}

func roomPrefix(key RoomID) []byte {
	return []byte(key + "\x00")
}

func roomFromChatKey(k []byte) RoomID {
	if i := bytes.IndexByte(k, 0); i >= 0 {
		return string(k[:i])
	}
	return string(k)
}

func putMessage(tx *bbolt.Tx, msg *Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	key := chatKey(msg)
	if err := tx.Bucket([]byte(CHATS)).Put(key, data); err != nil {
		return PutDataError{msg.ID, CHATS, err.Error()}
	}
	if err := tx.Bucket([]byte(CHATINDEX)).Put([]byte(msg.ID), key); err != nil {
		return PutDataError{msg.ID, CHATINDEX, err.Error()}
	}
	return nil
}

func putRoom(tx *bbolt.Tx, room *Room) error {
	data, err := encode(room)
	if err != nil {
		return err
	}
	if err := tx.Bucket([]byte(ROOMS)).Put(roomKeyFor(room), data); err != nil {
		return PutDataError{room.RoomKey, ROOMS, err.Error()}
	}
	return nil
}

// touchRoom creates the room record for peer when missing and stamps it with
// the latest message.
func touchRoom(tx *bbolt.Tx, key RoomID, peer UserName, body string, ts int64) error {
	room := Room{RoomKey: key, Peer: peer}
	if data := tx.Bucket([]byte(ROOMS)).Get(roomKeyFor(&room)); data != nil {
		if err := decode(data, &room); err != nil {
			return err
		}
	}
	if room.ID == "" {
		room.ID = newID()
	}
	room.LastMessage = body
	room.Updated = ts
	return putRoom(tx, &room)
}

func deleteRoomMessages(tx *bbolt.Tx, key RoomID) error {
	chats := tx.Bucket([]byte(CHATS))
	index := tx.Bucket([]byte(CHATINDEX))

	// Deleting under a live cursor skips entries, so collect first.
	keys := prefixKeys(chats, roomPrefix(key))
	for _, k := range keys {
		var msg Message
		if err := decode(chats.Get(k), &msg); err != nil {
			return err
		}
		if err := chats.Delete(k); err != nil {
			return DeleteDataError{string(k), CHATS, err.Error()}
		}
		if err := index.Delete([]byte(msg.ID)); err != nil {
			return DeleteDataError{msg.ID, CHATINDEX, err.Error()}
		}
	}
	return nil
}

func prefixKeys(b *bbolt.Bucket, prefix []byte) [][]byte {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	return keys
}

func encode(v interface{}) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, &JSONHandle)
	if err := enc.Encode(v); err != nil {
		return nil, EncoderError{err.Error()}
	}
	return out, nil
}

func decode(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, &JSONHandle)
	if err := dec.Decode(v); err != nil {
		return DecoderError{err.Error()}
	}
	return nil
}
