package com

import (
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultBufferSize is the number of received bytes a Port holds. Bytes
// arriving while the buffer is full are dropped, like a UART overrun.
const DefaultBufferSize = 256

// Port implements Channel over a stream such as a TCP connection, a
// websocket or the process stdio. A background reader moves bytes into a
// bounded receive buffer which Flush discards.
type Port struct {
	stream io.ReadWriter
	size   int

	lock    sync.Mutex
	buf     []byte
	dropped uint64
	readyCh chan struct{}
	doneCh  chan struct{}
	readErr error

	writeLock sync.Mutex
	closeOnce sync.Once
}

// NewPort creates a Port and starts reading from the stream.
func NewPort(stream io.ReadWriter) *Port {
	return NewPortSize(stream, DefaultBufferSize)
}

// NewPortSize creates a Port with a specific receive buffer size.
func NewPortSize(stream io.ReadWriter, size int) *Port {
	if size <= 0 {
		size = DefaultBufferSize
	}
	p := &Port{
		stream:  stream,
		size:    size,
		buf:     make([]byte, 0, size),
		readyCh: make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
	}
	go p.readLoop()
	return p
}

// readLoop never blocks on the consumer, only on the stream.
func (p *Port) readLoop() {
	data := make([]byte, 64)
	for {
		n, err := p.stream.Read(data)
		if n > 0 {
			p.receive(data[:n])
		}
		if err != nil {
			p.readErr = err
			close(p.doneCh)
			return
		}
	}
}

func (p *Port) receive(data []byte) {
	p.lock.Lock()
	room := p.size - len(p.buf)
	if len(data) > room {
		p.dropped += uint64(len(data) - room)
		glog.V(1).Infof("receive overrun, %d bytes dropped", len(data)-room)
		data = data[:room]
	}
	p.buf = append(p.buf, data...)
	p.lock.Unlock()
	if len(data) > 0 {
		select {
		case p.readyCh <- struct{}{}:
		default:
		}
	}
}

func (p *Port) pop() (byte, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if len(p.buf) == 0 {
		return 0, false
	}
	b := p.buf[0]
	n := copy(p.buf, p.buf[1:])
	p.buf = p.buf[:n]
	return b, true
}

// Buffered returns the number of received bytes not yet consumed.
func (p *Port) Buffered() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.buf)
}

// Dropped returns the number of bytes lost to a full receive buffer.
func (p *Port) Dropped() uint64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.dropped
}

// Done is closed when the stream can no longer be read.
func (p *Port) Done() <-chan struct{} {
	return p.doneCh
}

// Flush implements Channel.
func (p *Port) Flush() error {
	p.lock.Lock()
	p.buf = p.buf[:0]
	p.lock.Unlock()
	select {
	case <-p.readyCh:
	default:
	}
	return nil
}

// ReceiveByte implements Channel. Once the stream failed, every call waits
// out the timeout and reports the read error, so a caller polling a dead
// channel keeps its usual cadence.
func (p *Port) ReceiveByte(timeout time.Duration) (byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if b, ok := p.pop(); ok {
			return b, nil
		}
		select {
		case <-p.readyCh:
		case <-p.doneCh:
			if b, ok := p.pop(); ok {
				return b, nil
			}
			<-timer.C
			return 0, &ChannelError{Op: OpReceive, Err: p.readErr}
		case <-timer.C:
			return 0, ErrTimeout
		}
	}
}

// Write implements io.Writer.
func (p *Port) Write(data []byte) (int, error) {
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	return p.stream.Write(data)
}

// Close closes the stream if it is closable.
func (p *Port) Close() (err error) {
	p.closeOnce.Do(func() {
		if closer, ok := p.stream.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return
}
