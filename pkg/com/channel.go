package com

import (
	"errors"
	"io"
	"time"
)

// Receive operation names used in ChannelError.
const (
	OpFlush   = "flush"
	OpReceive = "receive"
)

var (
	// ErrTimeout indicates no byte arrived within the receive timeout.
	// It is an expected outcome, not a fault.
	ErrTimeout = errors.New("receive timeout")
	// ErrClosed indicates the channel has been closed locally.
	ErrClosed = errors.New("channel closed")
)

// ChannelError is a transient or persistent fault of the underlying medium,
// e.g. a framing error or a lost connection.
type ChannelError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *ChannelError) Error() string {
	return "channel " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ChannelError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a receive timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Channel is the operator channel consumed by the dispatcher.
type Channel interface {
	// Flush discards bytes received but not yet consumed. It never blocks.
	Flush() error
	// ReceiveByte blocks until one byte is available or timeout elapses.
	// On timeout it returns ErrTimeout, on a medium fault a *ChannelError.
	ReceiveByte(timeout time.Duration) (byte, error)

	io.Writer
}
