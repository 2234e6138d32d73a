package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chatspot/chatspot/db"
	"github.com/chatspot/chatspot/metrics"
	"github.com/chatspot/chatspot/ws"
)

var (
	ErrNotLoggedIn = errors.New("chat: not logged in")
	ErrNoReceiver  = errors.New("chat: receiver is required")
)

// Emitter sends one event to the remote end.
type Emitter interface {
	Emit(ev ws.MessageEvent) error
}

// Composer sends outbound messages and mirrors each one into local state.
type Composer struct {
	emitter   Emitter
	store     Store
	typing    *Typing
	selection *Selection
	me        func() string
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewComposer(emitter Emitter, store Store, typing *Typing, selection *Selection, me func() string, logger *slog.Logger, m *metrics.Metrics) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		emitter:   emitter,
		store:     store,
		typing:    typing,
		selection: selection,
		me:        me,
		now:       time.Now,
		logger:    logger,
		metrics:   m,
	}
}

// Send emits exactly one event to receiver and then applies the matching
// local side effect. Nothing is emitted without a live connection. A local
// store failure after the emit is logged, not returned: the event is already
// on the wire and is not taken back.
func (c *Composer) Send(ctx context.Context, receiver, body string, msgType db.MessageType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	me := c.me()
	if me == "" {
		return ErrNotLoggedIn
	}
	if receiver == "" {
		return ErrNoReceiver
	}
	// Same fallback as the receiving side, so both ends store the same thing.
	msgType = db.ParseMessageType(string(msgType))

	ev := ws.MessageEvent{
		Sender:    me,
		Receiver:  receiver,
		Body:      body,
		Type:      string(msgType),
		Timestamp: c.now().UnixMilli(),
	}
	err := c.emitter.Emit(ev)
	c.metrics.ObserveSend(string(msgType), err)
	if err != nil {
		return err
	}

	switch msgType {
	case db.TypeText:
		if err := c.store.SaveMessage(c.message(ev, msgType)); err != nil {
			c.storeFailed("save_message", ev, err)
		}
	case db.TypeClearChat:
		if err := c.store.ClearRoom(me, receiver, c.message(ev, msgType)); err != nil {
			c.storeFailed("clear_room", ev, err)
		}
	case db.TypeDeleteUser:
		if err := c.store.DeleteUserRoom(me, receiver); err != nil {
			c.storeFailed("delete_user_room", ev, err)
		}
		c.selection.ClearIf(receiver)
	case db.TypeTyping:
		c.typing.Set(me, body == TypingBody)
	}
	return nil
}

func (c *Composer) SendText(ctx context.Context, receiver, body string) error {
	return c.Send(ctx, receiver, body, db.TypeText)
}

func (c *Composer) ClearChat(ctx context.Context, receiver string) error {
	return c.Send(ctx, receiver, db.ChatCleared, db.TypeClearChat)
}

func (c *Composer) DeleteUser(ctx context.Context, receiver string) error {
	return c.Send(ctx, receiver, "", db.TypeDeleteUser)
}

func (c *Composer) SetTyping(ctx context.Context, receiver string, typing bool) error {
	body := StoppedTypingBody
	if typing {
		body = TypingBody
	}
	return c.Send(ctx, receiver, body, db.TypeTyping)
}

// Notifier returns a TypingNotifier that signals receiver through this
// composer.
func (c *Composer) Notifier(receiver string, idle time.Duration) *TypingNotifier {
	return NewTypingNotifier(func(typing bool) error {
		return c.SetTyping(context.Background(), receiver, typing)
	}, idle, c.logger)
}

func (c *Composer) message(ev ws.MessageEvent, msgType db.MessageType) *db.Message {
	return &db.Message{
		Sender:    ev.Sender,
		Receiver:  ev.Receiver,
		Body:      ev.Body,
		Type:      msgType,
		Timestamp: ev.Timestamp,
		IsMine:    true,
	}
}

func (c *Composer) storeFailed(op string, ev ws.MessageEvent, err error) {
	c.metrics.ObserveStoreFailure(op)
	c.logger.Error("Local store write failed after send", "op", op, "to", ev.Receiver, "type", ev.Type, "error", err)
}
