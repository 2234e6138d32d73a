package chat

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTypingExpiresWithoutClear(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	typing := NewTyping(clock.Now)

	typing.Set("bob", true)
	assert.True(t, typing.IsTyping("bob"))
	assert.Equal(t, []string{"bob"}, typing.Peers())

	clock.Advance(TypingWindow - time.Millisecond)
	assert.True(t, typing.IsTyping("bob"))

	clock.Advance(time.Millisecond)
	assert.False(t, typing.IsTyping("bob"))
	assert.Empty(t, typing.Peers())
}

func TestTypingStopAndClear(t *testing.T) {
	typing := NewTyping(nil)

	typing.Set("bob", true)
	typing.Set("bob", false)
	assert.False(t, typing.IsTyping("bob"))

	typing.Set("bob", true)
	typing.Set("carol", true)
	assert.Equal(t, []string{"bob", "carol"}, typing.Peers())
	typing.Clear()
	assert.False(t, typing.IsTyping("bob"))
	assert.False(t, typing.IsTyping("carol"))
	assert.False(t, typing.IsTyping("nobody"))
}

func TestSelection(t *testing.T) {
	var s Selection
	assert.False(t, s.ClearIf("bob"))

	s.Select("bob")
	assert.Equal(t, "bob", s.Active())
	assert.False(t, s.ClearIf("carol"))
	assert.Equal(t, "bob", s.Active())
	assert.True(t, s.ClearIf("bob"))
	assert.Empty(t, s.Active())

	s.Select("carol")
	s.Clear()
	assert.Empty(t, s.Active())
}

type signals struct {
	mu   sync.Mutex
	sent []bool
	err  error
}

func (s *signals) send(typing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, typing)
	return s.err
}

func (s *signals) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *signals) all() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.sent...)
}

func TestNotifierSignalsStartAndEmpty(t *testing.T) {
	sig := &signals{}
	n := NewTypingNotifier(sig.send, time.Hour, nil)

	n.Input("h")
	n.Input("he")
	n.Input("hel")
	assert.Equal(t, []bool{true}, sig.all())

	n.Input("")
	assert.Equal(t, []bool{true, false}, sig.all())

	n.Input("")
	assert.Equal(t, []bool{true, false}, sig.all())
}

func TestNotifierIdleSendsStopped(t *testing.T) {
	sig := &signals{}
	n := NewTypingNotifier(sig.send, 30*time.Millisecond, nil)

	n.Input("hi")
	require.Eventually(t, func() bool {
		got := sig.all()
		return len(got) == 2 && got[1] == false
	}, time.Second, 5*time.Millisecond)

	// Typing again after the idle stop starts a new signal.
	n.Input("hi!")
	assert.Equal(t, []bool{true, false, true}, sig.all())
	n.Stop()
}

func TestNotifierKeystrokesDeferIdle(t *testing.T) {
	sig := &signals{}
	n := NewTypingNotifier(sig.send, 80*time.Millisecond, nil)
	defer n.Stop()

	for i := 0; i < 5; i++ {
		n.Input("text")
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, []bool{true}, sig.all())
}

func TestNotifierStop(t *testing.T) {
	sig := &signals{}
	n := NewTypingNotifier(sig.send, time.Hour, nil)

	n.Stop()
	assert.Empty(t, sig.all(), "nothing to stop")

	n.Input("x")
	n.Stop()
	assert.Equal(t, []bool{true, false}, sig.all())
}

func TestNotifierRetriesFailedSignal(t *testing.T) {
	sig := &signals{err: errors.New("offline")}
	n := NewTypingNotifier(sig.send, time.Hour, nil)

	n.Input("x")
	n.Input("xy")
	assert.Equal(t, []bool{true, true}, sig.all())

	// Nothing was delivered, so there is nothing to stop.
	n.Stop()
	assert.Equal(t, []bool{true, true}, sig.all())

	sig.fail(nil)
	n.Input("xyz")
	n.Input("xyzw")
	assert.Equal(t, []bool{true, true, true}, sig.all())

	sig.fail(errors.New("offline"))
	n.Stop()
	sig.fail(nil)
	n.Stop()
	assert.Equal(t, []bool{true, true, true, false, false}, sig.all())
}
