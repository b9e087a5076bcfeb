package dispatch

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/userapp/pkg/com"
	"github.com/robotalks/userapp/pkg/ops"
	"github.com/robotalks/userapp/pkg/watchdog"
)

const (
	callRefresh = "refresh"
	callFlush   = "flush"
	callReceive = "receive"
	callMenu    = "menu"
	callToggle  = "toggle"
)

type callLog struct {
	calls []string
}

func (l *callLog) add(call string) {
	l.calls = append(l.calls, call)
}

// iterations splits the log at each watchdog refresh.
func (l *callLog) iterations() (iters [][]string) {
	for _, c := range l.calls {
		if c == callRefresh {
			iters = append(iters, nil)
		}
		if len(iters) == 0 {
			iters = append(iters, nil)
		}
		iters[len(iters)-1] = append(iters[len(iters)-1], c)
	}
	return
}

func (l *callLog) count(call string) (n int) {
	for _, c := range l.calls {
		if c == call {
			n++
		}
	}
	return
}

type reply struct {
	b   byte
	err error
}

// fakeChannel delivers stale bytes unless flushed, then scripted replies,
// then timeouts.
type fakeChannel struct {
	log      *callLog
	stale    []byte
	replies  []reply
	flushErr error
	out      bytes.Buffer
}

func (c *fakeChannel) Flush() error {
	c.log.add(callFlush)
	c.stale = nil
	return c.flushErr
}

func (c *fakeChannel) ReceiveByte(timeout time.Duration) (byte, error) {
	c.log.add(callReceive)
	if len(c.stale) > 0 {
		b := c.stale[0]
		c.stale = c.stale[1:]
		return b, nil
	}
	if len(c.replies) == 0 {
		return 0, com.ErrTimeout
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r.b, r.err
}

func (c *fakeChannel) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

type fakeMenu struct {
	log *callLog
}

func (m *fakeMenu) Present() { m.log.add(callMenu) }

type fakeIndicator struct {
	log *callLog
}

func (i *fakeIndicator) Toggle() { i.log.add(callToggle) }

type recordObserver struct {
	events []string
}

func (o *recordObserver) Timeout()              { o.events = append(o.events, "timeout") }
func (o *recordObserver) ChannelFault(error)    { o.events = append(o.events, "fault") }
func (o *recordObserver) Invalid(c ops.Command) { o.events = append(o.events, "invalid "+c.String()) }
func (o *recordObserver) Dispatched(c ops.Command, _ time.Duration) {
	o.events = append(o.events, "dispatched "+c.String())
}

type loopTestEnv struct {
	log      *callLog
	channel  *fakeChannel
	observer *recordObserver
	loop     *Loop
}

func opCall(cmd ops.Command) string {
	return fmt.Sprintf("op %c", byte(cmd))
}

func newLoopTestEnv(t *testing.T, replies ...reply) *loopTestEnv {
	log := &callLog{}
	op := func(cmd ops.Command) ops.Operation {
		return ops.OperationFunc(func() { log.add(opCall(cmd)) })
	}
	registry, err := ops.Standard(ops.Operations{
		Download:        op(ops.CmdDownload),
		TestProtections: op(ops.CmdTestProtections),
		TestUserCode:    op(ops.CmdTestUserCode),
		MultiDownload:   op(ops.CmdMultiDownload),
		Validate:        op(ops.CmdValidate),
	})
	require.NoError(t, err)
	env := &loopTestEnv{
		log:      log,
		channel:  &fakeChannel{log: log, replies: replies},
		observer: &recordObserver{},
	}
	env.loop = NewLoop(
		watchdog.RefreshFunc(func() { log.add(callRefresh) }),
		env.channel, registry, &fakeMenu{log: log})
	env.loop.Observer = env.observer
	return env
}

func bytesOf(bs ...byte) []reply {
	replies := make([]reply, len(bs))
	for n, b := range bs {
		replies[n] = reply{b: b}
	}
	return replies
}

func (e *loopTestEnv) opsInvoked() (invoked []string) {
	for _, c := range e.log.calls {
		if len(c) > 3 && c[:3] == "op " {
			invoked = append(invoked, c)
		}
	}
	return
}

func TestOrderingEveryIteration(t *testing.T) {
	replies := append(bytesOf('1', '9'), reply{err: com.ErrTimeout},
		reply{err: &com.ChannelError{Op: com.OpReceive, Err: errors.New("framing")}})
	replies = append(replies, bytesOf('5', 0, '3')...)
	env := newLoopTestEnv(t, replies...)
	env.loop.RunN(10)

	iters := env.log.iterations()
	require.Len(t, iters, 10)
	for n, iter := range iters {
		require.True(t, len(iter) >= 3, "iteration %d: %v", n, iter)
		require.Equal(t, []string{callRefresh, callFlush, callReceive}, iter[:3], "iteration %d", n)
		require.Equal(t, 1, countIn(iter, callReceive), "iteration %d", n)
	}
}

func countIn(calls []string, call string) (n int) {
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return
}

func TestIdempotentTimeout(t *testing.T) {
	env := newLoopTestEnv(t)
	outcomes := env.loop.RunN(100)
	for _, o := range outcomes {
		require.Equal(t, OutcomeTimeout, o)
	}
	require.Len(t, env.log.calls, 300)
	for n := 0; n < 100; n++ {
		require.Equal(t, []string{callRefresh, callFlush, callReceive}, env.log.calls[n*3:n*3+3])
	}
	require.Empty(t, env.opsInvoked())
	require.Equal(t, 0, env.log.count(callMenu))
	require.Empty(t, env.channel.out.String())
	require.Len(t, env.observer.events, 100)
}

func TestExactDispatch(t *testing.T) {
	for _, cmd := range []ops.Command{'1', '2', '3', '4', '5'} {
		t.Run(cmd.String(), func(t *testing.T) {
			env := newLoopTestEnv(t, bytesOf(byte(cmd))...)
			outcomes := env.loop.RunN(3)
			require.Equal(t, []Outcome{OutcomeDispatched, OutcomeTimeout, OutcomeTimeout}, outcomes)
			require.Equal(t, []string{opCall(cmd)}, env.opsInvoked())
			require.Empty(t, env.channel.out.String())
			require.Equal(t, "dispatched "+cmd.String(), env.observer.events[0])
		})
	}
}

func TestUnrecognizedPassthrough(t *testing.T) {
	for _, b := range []byte{'9', 'a', 0, '0', '\r', 0xff} {
		t.Run(ops.Command(b).String(), func(t *testing.T) {
			env := newLoopTestEnv(t, bytesOf(b, '2')...)
			outcomes := env.loop.RunN(3)
			require.Equal(t, []Outcome{OutcomeInvalid, OutcomeDispatched, OutcomeTimeout}, outcomes)
			require.Equal(t, "Invalid Number !\r", env.channel.out.String())
			require.Equal(t, []string{opCall('2')}, env.opsInvoked())
			require.Equal(t, 2, env.log.count(callMenu))
			require.Equal(t, "invalid "+ops.Command(b).String(), env.observer.events[0])
		})
	}
}

func TestFlushBeforeReceive(t *testing.T) {
	env := newLoopTestEnv(t, bytesOf('4')...)
	env.channel.stale = []byte{'2', '1'}
	env.loop.RunN(2)
	require.Equal(t, []string{opCall('4')}, env.opsInvoked())
}

func TestMenuAfterEveryAttempt(t *testing.T) {
	env := newLoopTestEnv(t, bytesOf('1', 'x', '3', '3')...)
	env.loop.RunN(6)
	iters := env.log.iterations()
	require.Len(t, iters, 6)
	for n, iter := range iters[:4] {
		require.Equal(t, 1, countIn(iter, callMenu), "iteration %d: %v", n, iter)
		require.Equal(t, callMenu, iter[len(iter)-1], "iteration %d: %v", n, iter)
	}
	for _, iter := range iters[4:] {
		require.Equal(t, 0, countIn(iter, callMenu))
	}
	// the menu follows the operation, it never precedes it.
	require.Equal(t, []string{callRefresh, callFlush, callReceive, opCall('1'), callMenu}, iters[0])
}

func TestChannelErrorContinues(t *testing.T) {
	fault := &com.ChannelError{Op: com.OpReceive, Err: errors.New("parity")}
	env := newLoopTestEnv(t, reply{err: fault}, reply{b: '5'})
	outcomes := env.loop.RunN(2)
	require.Equal(t, []Outcome{OutcomeChannelError, OutcomeDispatched}, outcomes)
	require.Equal(t, []string{"fault", "dispatched '5'"}, env.observer.events)
	require.Equal(t, 1, env.log.count(callMenu))
}

func TestFlushErrorStillReceives(t *testing.T) {
	env := newLoopTestEnv(t, bytesOf('2')...)
	env.channel.flushErr = &com.ChannelError{Op: com.OpFlush, Err: errors.New("io")}
	outcomes := env.loop.RunN(1)
	require.Equal(t, []Outcome{OutcomeDispatched}, outcomes)
	require.Equal(t, []string{"fault", "dispatched '2'"}, env.observer.events)
}

func TestOperationPanicContained(t *testing.T) {
	log := &callLog{}
	registry := ops.MustNewRegistry(ops.Binding{
		Command:   '1',
		Operation: ops.OperationFunc(func() { panic("flash error") }),
	})
	ch := &fakeChannel{log: log, replies: bytesOf('1')}
	loop := NewLoop(watchdog.RefreshFunc(func() { log.add(callRefresh) }), ch, registry, &fakeMenu{log: log})
	var outcomes []Outcome
	require.NotPanics(t, func() { outcomes = loop.RunN(2) })
	require.Equal(t, []Outcome{OutcomeDispatched, OutcomeTimeout}, outcomes)
	require.Equal(t, 1, log.count(callMenu))
}

func TestIndicatorToggledEveryIteration(t *testing.T) {
	env := newLoopTestEnv(t, bytesOf('1')...)
	env.loop.Indicator = &fakeIndicator{log: env.log}
	env.loop.RunN(4)
	for _, iter := range env.log.iterations() {
		require.Equal(t, callToggle, iter[len(iter)-1])
	}
}

func TestRunZeroIterations(t *testing.T) {
	env := newLoopTestEnv(t)
	require.Empty(t, env.loop.RunN(0))
	require.Empty(t, env.log.calls)
}

func TestDefaultTimeoutAndObserver(t *testing.T) {
	var got time.Duration
	ch := &timeoutChannel{got: &got}
	loop := &Loop{
		Watchdog: watchdog.Nop,
		Channel:  ch,
		Registry: ops.MustNewRegistry(),
		Menu:     &fakeMenu{log: &callLog{}},
	}
	require.Equal(t, OutcomeTimeout, loop.Iterate())
	require.Equal(t, DefaultReceiveTimeout, got)
}

type timeoutChannel struct {
	bytes.Buffer
	got *time.Duration
}

func (c *timeoutChannel) Flush() error { return nil }

func (c *timeoutChannel) ReceiveByte(timeout time.Duration) (byte, error) {
	*c.got = timeout
	return 0, com.ErrTimeout
}

func TestWithPort(t *testing.T) {
	s := newByteStream()
	port := com.NewPort(s)
	defer port.Close()
	s.readCh <- '2'
	s.readCh <- '1'
	require.Eventually(t, func() bool { return port.Buffered() == 2 }, time.Second, time.Millisecond)

	env := newLoopTestEnv(t)
	env.loop.Channel = &freshAfterFlush{Port: port, fresh: func() { s.readCh <- '3' }}
	env.loop.Timeout = time.Second
	require.Equal(t, []Outcome{OutcomeDispatched}, env.loop.RunN(1))
	require.Equal(t, []string{opCall('3')}, env.opsInvoked())
}

// freshAfterFlush supplies a fresh byte right after the stale input has been
// discarded.
type freshAfterFlush struct {
	*com.Port
	fresh func()
}

func (c *freshAfterFlush) Flush() error {
	err := c.Port.Flush()
	c.fresh()
	return err
}

type byteStream struct {
	readCh chan byte
	out    bytes.Buffer
}

func newByteStream() *byteStream {
	return &byteStream{readCh: make(chan byte, 4)}
}

func (s *byteStream) Read(p []byte) (int, error) {
	b, ok := <-s.readCh
	if !ok {
		return 0, errors.New("closed")
	}
	p[0] = b
	return 1, nil
}

func (s *byteStream) Write(p []byte) (int, error) { return s.out.Write(p) }
