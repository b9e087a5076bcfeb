// Package dispatch implements the command dispatch loop of the user app.
//
// Every iteration refreshes the watchdog, flushes stale input, then waits
// for one command byte with a bounded timeout, in exactly this order. A
// received command runs its operation to completion and the menu is shown
// again; a timeout simply starts the next iteration.
package dispatch

import (
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/userapp/pkg/com"
	"github.com/robotalks/userapp/pkg/menu"
	"github.com/robotalks/userapp/pkg/ops"
	"github.com/robotalks/userapp/pkg/watchdog"
)

// DefaultReceiveTimeout bounds the wait for a command byte. It must be
// shorter than the watchdog timeout.
const DefaultReceiveTimeout = time.Second

// Resolver looks up the operation bound to a command.
type Resolver interface {
	Resolve(ops.Command) (ops.Operation, bool)
}

// Presenter shows the menu.
type Presenter interface {
	Present()
}

// Indicator is toggled once per iteration as a heartbeat.
type Indicator interface {
	Toggle()
}

// Outcome is what an iteration ended with.
type Outcome int

// Outcomes
const (
	OutcomeTimeout Outcome = iota
	OutcomeChannelError
	OutcomeDispatched
	OutcomeInvalid
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeTimeout:
		return "timeout"
	case OutcomeChannelError:
		return "channel-error"
	case OutcomeDispatched:
		return "dispatched"
	case OutcomeInvalid:
		return "invalid"
	}
	return "unknown"
}

// Loop owns the watchdog and the operator channel for the lifetime of the
// process.
type Loop struct {
	Watchdog  watchdog.Refresher
	Channel   com.Channel
	Registry  Resolver
	Menu      Presenter
	Timeout   time.Duration
	Observer  Observer
	Indicator Indicator
}

// NewLoop creates a Loop with the default receive timeout, logging
// observer and no indicator.
func NewLoop(wd watchdog.Refresher, ch com.Channel, r Resolver, m Presenter) *Loop {
	return &Loop{
		Watchdog: wd,
		Channel:  ch,
		Registry: r,
		Menu:     m,
		Timeout:  DefaultReceiveTimeout,
		Observer: LogObserver{},
	}
}

// Run presents the menu and then iterates forever. It never returns; the
// process ends by reset or power-off only.
func (l *Loop) Run() {
	l.Menu.Present()
	for {
		l.Iterate()
	}
}

// RunN runs n iterations.
func (l *Loop) RunN(n int) []Outcome {
	outcomes := make([]Outcome, 0, n)
	for i := 0; i < n; i++ {
		outcomes = append(outcomes, l.Iterate())
	}
	return outcomes
}

// Iterate runs a single iteration.
func (l *Loop) Iterate() (outcome Outcome) {
	obs := l.observer()

	l.Watchdog.Refresh()

	if err := l.Channel.Flush(); err != nil {
		obs.ChannelFault(err)
	}

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultReceiveTimeout
	}
	b, err := l.Channel.ReceiveByte(timeout)
	switch {
	case err == nil:
		outcome = l.dispatch(ops.Command(b), obs)
	case com.IsTimeout(err):
		outcome = OutcomeTimeout
		obs.Timeout()
	default:
		outcome = OutcomeChannelError
		obs.ChannelFault(err)
	}

	if l.Indicator != nil {
		l.Indicator.Toggle()
	}
	return
}

func (l *Loop) dispatch(cmd ops.Command, obs Observer) Outcome {
	outcome := OutcomeInvalid
	if op, ok := l.Registry.Resolve(cmd); ok {
		outcome = OutcomeDispatched
		glog.V(1).Infof("command %s: start", cmd)
		start := time.Now()
		invoke(cmd, op)
		obs.Dispatched(cmd, time.Since(start))
	} else {
		menu.Notice(l.Channel, menu.InvalidNotice)
		obs.Invalid(cmd)
	}
	l.Menu.Present()
	return outcome
}

// invoke contains a panicking operation; how an operation concludes is its
// own concern.
func invoke(cmd ops.Command, op ops.Operation) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("command %s: operation panicked: %v", cmd, r)
		}
	}()
	op.Invoke()
}

func (l *Loop) observer() Observer {
	if l.Observer == nil {
		return NopObserver{}
	}
	return l.Observer
}
