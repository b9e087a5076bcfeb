// Package com provides the operator communication channel of the user app.
package com

// The channel is byte oriented and half duplex from the application's
// point of view: the dispatcher flushes stale input, waits for a single
// command byte with a bounded timeout and writes human readable text back.
//
// Backends:
//
//   stdio:                           process stdin/stdout
//   tcp://host:port                  dial a TCP peer
//   tcp-listen://:port               accept operator terminals
//   ws://host/path                   websocket peer
//   serial:///dev/ttyUSB0?baud=N     serial tty in raw mode
