package com

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/net/websocket"
)

// DialTimeout bounds connecting to a remote channel peer.
const DialTimeout = 5 * time.Second

// CloseChannel closes a Channel if it holds resources.
func CloseChannel(ch Channel) error {
	if closer, ok := ch.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

type stdio struct {
	io.Reader
	io.Writer
}

// Stdio creates a Port over the process stdin and stdout.
func Stdio() *Port {
	return NewPort(&stdio{Reader: os.Stdin, Writer: os.Stdout})
}

// Open creates a Channel from a URL.
func Open(channelURL string) (Channel, error) {
	u, err := url.Parse(channelURL)
	if err != nil {
		return nil, fmt.Errorf("invalid channel URL: %v", err)
	}
	switch u.Scheme {
	case "", "stdio":
		if u.Scheme == "" && u.Path != "" {
			return nil, fmt.Errorf("channel URL scheme required: %q", channelURL)
		}
		return Stdio(), nil
	case "tcp":
		conn, err := net.DialTimeout("tcp", u.Host, DialTimeout)
		if err != nil {
			return nil, err
		}
		return NewPort(conn), nil
	case "tcp-listen":
		return Listen(u.Host)
	case "ws", "wss":
		origin := "http://localhost/"
		if val := u.Query().Get("origin"); val != "" {
			origin = val
		}
		conn, err := websocket.Dial(channelURL, "", origin)
		if err != nil {
			return nil, err
		}
		// Deliver payloads as a raw byte stream.
		conn.PayloadType = websocket.BinaryFrame
		return NewPort(conn), nil
	case "serial":
		baud := DefaultBaudRate
		if val := u.Query().Get("baud"); val != "" {
			if baud, err = strconv.Atoi(val); err != nil {
				return nil, fmt.Errorf("invalid baud rate %q: %v", val, err)
			}
		}
		if u.Path == "" {
			return nil, fmt.Errorf("serial device required: %q", channelURL)
		}
		return OpenTerm(u.Path, baud)
	default:
		return nil, fmt.Errorf("unknown channel URL scheme: %q", u.Scheme)
	}
}
