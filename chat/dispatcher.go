package chat

import (
	"log/slog"

	"github.com/chatspot/chatspot/db"
	"github.com/chatspot/chatspot/metrics"
	"github.com/chatspot/chatspot/ws"
)

// Store is the part of the local store the dispatcher and composer write to.
type Store interface {
	SaveMessage(msg *db.Message) error
	ClearRoom(a, b db.UserName, audit *db.Message) error
	DeleteUserRoom(a, b db.UserName) error
}

// Dispatcher applies inbound message events to local state. It is called
// from the connection's single read goroutine, one event at a time.
type Dispatcher struct {
	store     Store
	typing    *Typing
	selection *Selection
	me        func() string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewDispatcher(store Store, typing *Typing, selection *Selection, me func() string, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     store,
		typing:    typing,
		selection: selection,
		me:        me,
		logger:    logger,
		metrics:   m,
	}
}

// Dispatch routes ev by its type. Unknown and missing types are handled as
// text. Store failures are logged and dropped.
func (d *Dispatcher) Dispatch(ev ws.MessageEvent) {
	me := d.me()
	if me == "" {
		d.logger.Warn("Dropping event received while logged out", "from", ev.Sender)
		return
	}
	if ev.Sender == "" {
		d.logger.Warn("Dropping event without sender", "type", ev.Type)
		return
	}

	msgType := db.ParseMessageType(ev.Type)
	d.metrics.ObserveDispatch(string(msgType))

	switch msgType {
	case db.TypeClearChat:
		audit := d.message(me, ev, db.TypeClearChat)
		if audit.Body == "" {
			audit.Body = db.ChatCleared
		}
		if err := d.store.ClearRoom(me, ev.Sender, audit); err != nil {
			d.storeFailed("clear_room", ev, err)
		}

	case db.TypeDeleteUser:
		if err := d.store.DeleteUserRoom(me, ev.Sender); err != nil {
			d.storeFailed("delete_user_room", ev, err)
		}
		if d.selection.ClearIf(ev.Sender) {
			d.logger.Debug("Closed conversation deleted by peer", "peer", ev.Sender)
		}

	case db.TypeTyping:
		d.typing.Set(ev.Sender, ev.Body == TypingBody)

	default:
		if err := d.store.SaveMessage(d.message(me, ev, db.TypeText)); err != nil {
			d.storeFailed("save_message", ev, err)
		}
	}
}

// message builds the local record of an inbound event. The event reached us,
// so we are its receiver whatever the frame says.
func (d *Dispatcher) message(me string, ev ws.MessageEvent, msgType db.MessageType) *db.Message {
	return &db.Message{
		Sender:    ev.Sender,
		Receiver:  me,
		Body:      ev.Body,
		Type:      msgType,
		Timestamp: ev.Timestamp,
		IsMine:    false,
	}
}

func (d *Dispatcher) storeFailed(op string, ev ws.MessageEvent, err error) {
	d.metrics.ObserveStoreFailure(op)
	d.logger.Error("Local store write failed", "op", op, "from", ev.Sender, "type", ev.Type, "error", err)
}
