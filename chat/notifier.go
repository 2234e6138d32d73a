package chat

import (
	"log/slog"
	"sync"
	"time"
)

// TypingIdle is how long input may sit unchanged before "stopped_typing" is
// sent on the user's behalf.
const TypingIdle = 3 * time.Second

// TypingNotifier turns composer input changes for one receiver into typing
// signals.
type TypingNotifier struct {
	send   func(typing bool) error
	idle   time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
	// gen invalidates idle timers that fired while the lock was held elsewhere.
	gen uint64
}

// NewTypingNotifier calls send(true) when typing starts and send(false) when
// it stops. idle <= 0 means TypingIdle.
func NewTypingNotifier(send func(typing bool) error, idle time.Duration, logger *slog.Logger) *TypingNotifier {
	if idle <= 0 {
		idle = TypingIdle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TypingNotifier{send: send, idle: idle, logger: logger}
}

// Input reports the current content of the input box.
func (n *TypingNotifier) Input(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if text == "" {
		n.stopLocked()
		return
	}
	if !n.typing {
		n.signal(true)
	}
	n.gen++
	gen := n.gen
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.idle, func() { n.expire(gen) })
}

// Stop is called on focus loss or when the input goes away.
func (n *TypingNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopLocked()
}

func (n *TypingNotifier) expire(gen uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if gen != n.gen {
		return
	}
	n.stopLocked()
}

func (n *TypingNotifier) stopLocked() {
	n.gen++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	if n.typing {
		n.signal(false)
	}
}

// signal records the new state only once it has been sent, so a failed
// signal is retried on the next input change.
func (n *TypingNotifier) signal(typing bool) {
	if err := n.send(typing); err != nil {
		n.logger.Debug("Typing signal not sent", "typing", typing, "error", err)
		return
	}
	n.typing = typing
}
