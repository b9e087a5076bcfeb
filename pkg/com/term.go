package com

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/term"
)

// DefaultBaudRate is the speed of the virtual COM port on the target board.
const DefaultBaudRate = 115200

// MaxTermTimeout is the longest receive timeout a tty supports. VTIME
// counts deciseconds in a single byte.
const MaxTermTimeout = 255 * 100 * time.Millisecond

// Term implements Channel over a serial tty in raw mode. Receive timeouts
// are enforced by the tty driver, so no background reader is involved.
type Term struct {
	tty     *term.Term
	timeout time.Duration
	lock    sync.Mutex
}

// OpenTerm opens a serial device.
func OpenTerm(dev string, baud int) (*Term, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	tty, err := term.Open(dev, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, err
	}
	return &Term{tty: tty}, nil
}

// Flush implements Channel. It discards input received but not read.
// Output still queued for transmission is kept.
func (t *Term) Flush() error {
	n, err := t.tty.Available()
	if err != nil {
		return &ChannelError{Op: OpFlush, Err: err}
	}
	buf := make([]byte, 64)
	for n > 0 {
		size := n
		if size > len(buf) {
			size = len(buf)
		}
		read, err := t.tty.Read(buf[:size])
		if read <= 0 || err != nil {
			break
		}
		n -= read
	}
	return nil
}

// ReceiveByte implements Channel. The tty driver works in deciseconds:
// timeouts are rounded down to that and capped at MaxTermTimeout.
func (t *Term) ReceiveByte(timeout time.Duration) (byte, error) {
	if timeout != t.timeout {
		if err := t.tty.SetReadTimeout(timeout); err != nil {
			return 0, &ChannelError{Op: OpReceive, Err: err}
		}
		t.timeout = timeout
	}
	var buf [1]byte
	n, err := t.tty.Read(buf[:])
	switch {
	case err != nil && (os.IsTimeout(err) || err == io.EOF):
		return 0, ErrTimeout
	case err != nil:
		return 0, &ChannelError{Op: OpReceive, Err: err}
	case n == 0:
		return 0, ErrTimeout
	}
	return buf[0], nil
}

// Write implements io.Writer.
func (t *Term) Write(data []byte) (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.tty.Write(data)
}

// Close restores and closes the tty.
func (t *Term) Close() error {
	return t.tty.Close()
}
