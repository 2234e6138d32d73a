package db

import (
	"log/slog"
	"sync"
)

// change records what a committed transaction touched.
type change struct {
	all   bool
	keys  map[RoomID]struct{}
	rooms bool
}

func newChange() *change {
	return &change{keys: make(map[RoomID]struct{})}
}

func (c *change) touchMessages(key RoomID) { c.keys[key] = struct{}{} }
func (c *change) touchRooms()              { c.rooms = true }

func (c *change) hasMessages(key RoomID) bool {
	if c.all {
		return true
	}
	_, ok := c.keys[key]
	return ok
}

func (c *change) hasRooms() bool { return c.all || c.rooms }

type watcher interface {
	notify(c *change)
	close()
}

type watchers struct {
	mu     sync.Mutex
	nextID uint64
	set    map[uint64]watcher
	logger *slog.Logger
}

func newWatchers(logger *slog.Logger) *watchers {
	return &watchers{set: make(map[uint64]watcher), logger: logger}
}

func (w *watchers) add(wt watcher) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	w.set[w.nextID] = wt
	return w.nextID
}

func (w *watchers) remove(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.set, id)
}

func (w *watchers) publish(c *change) {
	w.mu.Lock()
	targets := make([]watcher, 0, len(w.set))
	for _, wt := range w.set {
		targets = append(targets, wt)
	}
	w.mu.Unlock()

	for _, wt := range targets {
		wt.notify(c)
	}
}

func (w *watchers) closeAll() {
	w.mu.Lock()
	targets := w.set
	w.set = make(map[uint64]watcher)
	w.mu.Unlock()

	for _, wt := range targets {
		wt.close()
	}
}

// Subscription is a live query. C delivers a full snapshot right away and a
// fresh one after every committed write the query depends on. A consumer that
// falls behind only ever sees the latest snapshot. Close must be called to
// release the subscription; C is closed afterwards.
type Subscription[T any] struct {
	ch     chan T
	query  func() (T, error)
	match  func(*change) bool
	logger *slog.Logger

	mu     sync.Mutex
	closed bool

	id    uint64
	owner *watchers
}

func (s *Subscription[T]) C() <-chan T { return s.ch }

func (s *Subscription[T]) Close() {
	s.owner.remove(s.id)
	s.close()
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// notify re-runs the query under the subscription lock so that snapshots
// are delivered in commit order.
func (s *Subscription[T]) notify(c *change) {
	if !s.match(c) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	snapshot, err := s.query()
	if err != nil {
		s.logger.Error("live query failed", "error", err)
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snapshot
}

func subscribe[T any](w *watchers, logger *slog.Logger, query func() (T, error), match func(*change) bool) *Subscription[T] {
	s := &Subscription[T]{
		ch:     make(chan T, 1),
		query:  query,
		match:  match,
		logger: logger,
		owner:  w,
	}
	s.id = w.add(s)
	s.notify(&change{all: true})
	return s
}

// ObserveMessages is the live form of GetMessages.
func (db *BBoltDB) ObserveMessages(a, b UserName) *Subscription[[]Message] {
	key := RoomKey(a, b)
	return subscribe(db.watch, db.logger,
		func() ([]Message, error) { return db.GetMessages(a, b) },
		func(c *change) bool { return c.hasMessages(key) },
	)
}

// ObserveRooms is the live form of GetRooms.
func (db *BBoltDB) ObserveRooms(user UserName) *Subscription[[]Room] {
	return subscribe(db.watch, db.logger,
		func() ([]Room, error) { return db.GetRooms(user) },
		func(c *change) bool { return c.hasRooms() },
	)
}
