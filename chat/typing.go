package chat

import (
	"sort"
	"sync"
	"time"
)

// TypingWindow is how long one "typing" signal keeps a peer marked as typing.
const TypingWindow = 5 * time.Second

// Bodies of typing messages.
const (
	TypingBody        = "typing"
	StoppedTypingBody = "stopped_typing"
)

// Typing tracks when each peer last signalled typing. Entries go stale on
// their own: IsTyping compares against the clock on every read.
type Typing struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewTyping returns a tracker reading time from now, or time.Now when nil.
func NewTyping(now func() time.Time) *Typing {
	if now == nil {
		now = time.Now
	}
	return &Typing{last: make(map[string]time.Time), now: now}
}

func (t *Typing) Set(peer string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if typing {
		t.last[peer] = t.now()
		return
	}
	delete(t.last, peer)
}

func (t *Typing) IsTyping(peer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.last[peer]
	return ok && t.now().Sub(at) < TypingWindow
}

// Peers lists the peers currently typing, sorted.
func (t *Typing) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var peers []string
	for peer, at := range t.last {
		if now.Sub(at) < TypingWindow {
			peers = append(peers, peer)
		}
	}
	sort.Strings(peers)
	return peers
}

func (t *Typing) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = make(map[string]time.Time)
}

// Selection is the conversation currently open in the UI.
type Selection struct {
	mu   sync.Mutex
	peer string
}

func (s *Selection) Select(peer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = peer
}

func (s *Selection) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

func (s *Selection) Clear() { s.Select("") }

// ClearIf closes the conversation when it is the one with peer.
func (s *Selection) ClearIf(peer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == "" || s.peer != peer {
		return false
	}
	s.peer = ""
	return true
}
