package ws

import (
	"errors"
	"fmt"
)

// ----------------------- Connection Errors --------------------------

var (
	// ErrNotConnected is returned by Emit when there is no live connection.
	ErrNotConnected = errors.New("ws: not connected")
	// ErrSendBufferFull is returned by Emit when the write queue rejects a frame.
	ErrSendBufferFull = errors.New("ws: send buffer full")
)

type InvalidURLError struct{ url, reason string }

func (e InvalidURLError) Error() string {
	return fmt.Sprintf("ws: invalid server url %q: %s", e.url, e.reason)
}

// DialError wraps a failed connection attempt.
type DialError struct {
	URL    string
	Status int
	Err    error
}

func (e DialError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ws: dial %s: %v (http %d)", e.URL, e.Err, e.Status)
	}
	return fmt.Sprintf("ws: dial %s: %v", e.URL, e.Err)
}

func (e DialError) Unwrap() error { return e.Err }

type FrameError struct {
	op  string
	err error
}

func (e FrameError) Error() string {
	return fmt.Sprintf("ws: failed to %s frame: %v", e.op, e.err)
}

func (e FrameError) Unwrap() error { return e.err }
