package com

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Listener implements Channel by accepting operator connections. The most
// recent connection owns the channel; an earlier one is closed when a new
// one arrives. Without a connection the channel behaves like an idle line:
// receives time out and writes are discarded.
type Listener struct {
	listener  net.Listener
	current   *Port
	onConnect func(io.Writer)
	lock      sync.Mutex
}

// Listen listens on a TCP address.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewListener(ln), nil
}

// NewListener wraps a net.Listener and starts accepting.
func NewListener(ln net.Listener) *Listener {
	l := &Listener{listener: ln}
	go l.acceptLoop()
	return l
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// SetOnConnect installs a callback invoked with each newly accepted
// connection before it becomes the channel.
func (l *Listener) SetOnConnect(fn func(io.Writer)) {
	l.lock.Lock()
	l.onConnect = fn
	l.lock.Unlock()
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			glog.V(1).Infof("listener stopped: %v", err)
			return
		}
		glog.Infof("operator connected from %s", conn.RemoteAddr())
		port := NewPort(conn)
		l.lock.Lock()
		fn := l.onConnect
		l.lock.Unlock()
		if fn != nil {
			fn(port)
		}
		l.lock.Lock()
		prev := l.current
		l.current = port
		l.lock.Unlock()
		if prev != nil {
			prev.Close()
		}
	}
}

func (l *Listener) port() *Port {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.current
}

func (l *Listener) drop(p *Port) {
	l.lock.Lock()
	if l.current == p {
		l.current = nil
	}
	l.lock.Unlock()
	p.Close()
}

// Flush implements Channel.
func (l *Listener) Flush() error {
	if p := l.port(); p != nil {
		return p.Flush()
	}
	return nil
}

// ReceiveByte implements Channel. A fault on the current connection is
// reported once and the connection is dropped.
func (l *Listener) ReceiveByte(timeout time.Duration) (byte, error) {
	p := l.port()
	if p == nil {
		time.Sleep(timeout)
		return 0, ErrTimeout
	}
	b, err := p.ReceiveByte(timeout)
	if _, ok := err.(*ChannelError); ok {
		glog.Infof("operator disconnected: %v", err)
		l.drop(p)
	}
	return b, err
}

// Write implements io.Writer.
func (l *Listener) Write(data []byte) (int, error) {
	if p := l.port(); p != nil {
		return p.Write(data)
	}
	return len(data), nil
}

// Close stops accepting and closes the current connection.
func (l *Listener) Close() error {
	err := l.listener.Close()
	if p := l.port(); p != nil {
		l.drop(p)
	}
	return err
}
